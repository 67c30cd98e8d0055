package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"PPMall/module/identity"
	"PPMall/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, security.Options) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwt := security.DefaultOptions([]byte("k"))
	auth := NewAuthenticator(DefaultOptions(jwt))
	r := gin.New()
	r.GET("/me", auth.Middleware(), func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.String(http.StatusOK, p.String())
	})
	r.GET("/ops", auth.Middleware(), RequireRole(identity.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, jwt
}

func do(r http.Handler, url, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareResolvesPrincipal(t *testing.T) {
	r, jwt := newRouter(t)
	tok, _, err := security.Generate(jwt, identity.Seller(8))
	require.NoError(t, err)

	w := do(r, "/me", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "seller:8", w.Body.String())

	w = do(r, "/me?token="+tok, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":1501`)

	w = do(r, "/me", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	r, jwt := newRouter(t)
	buyer, _, err := security.Generate(jwt, identity.Buyer(1))
	require.NoError(t, err)
	admin, _, err := security.Generate(jwt, identity.Admin(1))
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, do(r, "/ops", "Bearer "+buyer).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/ops", "Bearer "+admin).Code)
}
