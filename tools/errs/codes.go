package errs

import "net/http"

const (
	ServerInternalError = 500
	ArgsError           = 1001
	RecordNotFoundError = 1004
	ConnLimitError      = 1101
	TokenInvalidError   = 1501
	NoPermissionError   = 1502

	// 库存相关
	OutOfStockError  = 2001
	StockRetryError  = 2002
	UnknownSkuError  = 2003
	LedgerApplyError = 2101
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
	ErrConnLimit      = NewCodeError(ConnLimitError, "ConnLimitError")
	ErrTokenInvalid   = NewCodeError(TokenInvalidError, "TokenInvalidError")
	ErrNoPermission   = NewCodeError(NoPermissionError, "NoPermissionError")

	ErrOutOfStock  = NewCodeError(OutOfStockError, "OutOfStock")
	ErrStockRetry  = NewCodeError(StockRetryError, "StockTemporarilyUnavailable")
	ErrUnknownSku  = NewCodeError(UnknownSkuError, "UnknownSku")
	ErrLedgerApply = NewCodeError(LedgerApplyError, "LedgerApplyError")
)

// HTTPStatus 业务码 -> HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case ArgsError:
		return http.StatusBadRequest
	case RecordNotFoundError, UnknownSkuError:
		return http.StatusNotFound
	case TokenInvalidError:
		return http.StatusUnauthorized
	case NoPermissionError:
		return http.StatusForbidden
	case OutOfStockError:
		return http.StatusConflict
	case StockRetryError, ConnLimitError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
