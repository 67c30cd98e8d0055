package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PPMall/logger"
	"PPMall/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// GetOrLoad 读穿：命中直接返回，未命中调用 load 并回填；回填失败不影响结果
func GetOrLoad[T any](ctx context.Context, rdb redis.UniversalClient, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var v T
	raw, err := rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, &v); jerr == nil {
			return v, nil
		}
		logger.Warn("cache value corrupt, reloading", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}

	v, err = load(ctx)
	if err != nil {
		return v, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v, errs.WrapMsg(err, "marshal cache value", "key", key)
	}
	if err := rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
