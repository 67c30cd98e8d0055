package mongoutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestNormalize(t *testing.T) {
	c := &Config{Address: []string{"m1:27017", "m2:27017"}, Database: "ppmall", Username: "u", Password: "p@ss"}
	require.NoError(t, c.normalize())
	assert.Equal(t, defaultMaxPoolSize, c.MaxPoolSize)
	assert.Equal(t, defaultMaxRetry, c.MaxRetry)
	assert.Equal(t, "mongodb://u:p%40ss@m1:27017,m2:27017/ppmall?authSource=ppmall&maxPoolSize=100", c.Uri)

	anon := &Config{Address: []string{"m1:27017"}, Database: "ppmall", AuthSource: "admin", MaxPoolSize: 5}
	require.NoError(t, anon.normalize())
	assert.Equal(t, "mongodb://m1:27017/ppmall?authSource=admin&maxPoolSize=5", anon.Uri)

	keep := &Config{Uri: "mongodb://x:27017", Database: "ppmall"}
	require.NoError(t, keep.normalize())
	assert.Equal(t, "mongodb://x:27017", keep.Uri)

	require.Error(t, (&Config{Database: "x"}).normalize())
	require.Error(t, (&Config{Uri: "mongodb://x"}).normalize())
}

func TestRetryable(t *testing.T) {
	ctx := context.Background()
	assert.True(t, retryable(ctx, errors.New("connection refused")))
	assert.False(t, retryable(ctx, mongo.CommandError{Code: codeAuthFailed}))
	assert.False(t, retryable(ctx, mongo.CommandError{Code: codeUnauthorized}))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, retryable(canceled, errors.New("x")))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, retryDelay(1))
	assert.Equal(t, 3*time.Second, retryDelay(10))
}
