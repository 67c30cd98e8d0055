package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrincipal(t *testing.T) {
	p, err := ParsePrincipal("seller:17")
	require.NoError(t, err)
	assert.Equal(t, Seller(17), p)
	assert.Equal(t, "seller:17", p.String())

	for _, bad := range []string{"seller", "ghost:1", "buyer:x", "buyer:0"} {
		_, err := ParsePrincipal(bad)
		assert.Error(t, err, bad)
	}
}

func TestRoleJSON(t *testing.T) {
	b, err := json.Marshal(Buyer(5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"buyer","id":"5"}`, string(b))

	var p Principal
	require.NoError(t, json.Unmarshal([]byte(`{"role":"admin","id":"9"}`), &p))
	assert.Equal(t, Admin(9), p)

	require.Error(t, json.Unmarshal([]byte(`{"role":"root","id":"9"}`), &p))
}

func TestPrincipalValid(t *testing.T) {
	assert.True(t, Buyer(1).Valid())
	assert.False(t, Principal{Role: 9, ID: 1}.Valid())
	assert.False(t, Buyer(0).Valid())
	assert.Equal(t, "role(9)", Role(9).String())
}
