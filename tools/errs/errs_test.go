package errs

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorIsMatchesByCode(t *testing.T) {
	err := ErrOutOfStock.WrapMsg("sku sold out", "sku", 42)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrOutOfStock))
	assert.False(t, errors.Is(err, ErrStockRetry))
	assert.Contains(t, err.Error(), "sku=42")

	// 原始哨兵不被修改
	assert.Empty(t, ErrOutOfStock.Detail)
}

func TestCodeOfFallsBackToInternal(t *testing.T) {
	ce := CodeOf(WrapMsg(ErrArgs.Wrap(), "decode body"))
	assert.Equal(t, ArgsError, ce.Code)

	ce = CodeOf(errors.New("boom"))
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)

	assert.Nil(t, CodeOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(OutOfStockError))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(StockRetryError))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(RecordNotFoundError))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(TokenInvalidError))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(12345))
}

func TestCodeRelation(t *testing.T) {
	rel := newCodeRelation()
	require.Error(t, rel.Add(1))
	require.NoError(t, rel.Add(10, 11, 12))
	assert.True(t, rel.Is(10, 12))
	assert.True(t, rel.Is(11, 12))
	assert.False(t, rel.Is(12, 10))
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("kaboom")
	assert.True(t, errors.Is(err, ErrInternalServer))
	assert.Contains(t, err.Error(), "kaboom")
}
