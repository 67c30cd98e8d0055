package cache

import (
	"context"
	"errors"
	"time"

	"PPMall/logger"
	"PPMall/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultSecondDeleteDelay = 500 * time.Millisecond

// Invalidator 延迟双删：写前删一次，写后延迟再删一次，清掉并发读回填的旧值
type Invalidator struct {
	Rdb   redis.UniversalClient
	Sched *Scheduler
	Delay time.Duration

	log *zap.Logger
}

func NewInvalidator(rdb redis.UniversalClient, sched *Scheduler, delay time.Duration) *Invalidator {
	if delay <= 0 {
		delay = DefaultSecondDeleteDelay
	}
	return &Invalidator{Rdb: rdb, Sched: sched, Delay: delay, log: logger.With(zap.String("component", "cache"))}
}

func (i *Invalidator) InvalidateBeforeWrite(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := i.Rdb.Del(ctx, keys...).Err(); err != nil {
		return errs.WrapMsg(err, "cache delete", "keys", keys)
	}
	return nil
}

// InvalidateAfterWrite 不阻塞调用方；调度器满时降级为立即删除
func (i *Invalidator) InvalidateAfterWrite(keys ...string) {
	if len(keys) == 0 {
		return
	}
	del := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := i.Rdb.Del(ctx, keys...).Err(); err != nil {
			i.log.Warn("second delete failed", zap.Strings("keys", keys), zap.Error(err))
		}
	}
	err := i.Sched.After(i.Delay, del)
	if err == nil {
		return
	}
	if errors.Is(err, ErrSchedulerFull) {
		i.log.Warn("scheduler full, deleting immediately", zap.Strings("keys", keys), zap.Int("cap", i.Sched.Cap()))
	} else {
		i.log.Warn("schedule second delete", zap.Strings("keys", keys), zap.Error(err))
	}
	del()
}

// WithWrite 删 -> 写 -> 延迟删；写失败不做第二次删除
func (i *Invalidator) WithWrite(ctx context.Context, write func(ctx context.Context) error, keys ...string) error {
	if err := i.InvalidateBeforeWrite(ctx, keys...); err != nil {
		return err
	}
	if err := write(ctx); err != nil {
		return err
	}
	i.InvalidateAfterWrite(keys...)
	return nil
}
