package bus

import (
	"context"
	"encoding/json"
	"sync"

	"PPMall/logger"
	"PPMall/tools/errs"
	"PPMall/tools/safe"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus 基于 Redis Pub/Sub 的总线；部署里没有 NATS 时使用
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	mws     []Middleware
	log     *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func NewRedisBus(rdb redis.UniversalClient, channel string, mws ...Middleware) *RedisBus {
	if channel == "" {
		channel = DefaultSubject
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		mws:     mws,
		log:     logger.With(zap.String("component", "bus.redis")),
	}
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errs.WrapMsg(err, "marshal envelope")
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return errs.WrapMsg(err, "redis publish", "channel", b.channel)
	}
	return nil
}

// Subscribe 确认订阅生效后才返回；消息在单个协程里按序交付
func (b *RedisBus) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errs.New("redis bus closed")
	}
	b.mu.Unlock()

	h = Chain(h, b.mws...)
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errs.WrapMsg(err, "redis subscribe", "channel", b.channel)
	}
	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	safe.Go("bus.redis.subscribe", func() {
		for m := range ch {
			env, err := decodeEnvelope([]byte(m.Payload))
			if err != nil {
				b.log.Warn("drop malformed envelope", zap.Error(err))
				continue
			}
			h(ctx, env)
		}
	})
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var firstErr error
	for _, ps := range b.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.subs = nil
	return firstErr
}
