package mongoutil

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// 认证类错误重试无意义
const (
	codeUnauthorized = 13
	codeAuthFailed   = 18
)

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != codeUnauthorized && cmdErr.Code != codeAuthFailed
	}
	return true
}

// retryDelay 线性退避，封顶 3s
func retryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 500 * time.Millisecond
	if d > 3*time.Second {
		d = 3 * time.Second
	}
	return d
}
