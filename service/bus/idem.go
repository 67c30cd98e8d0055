package bus

import (
	"context"
	"sync"
	"time"
)

// IdemStore 记录已见过的 envelope id
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu        sync.Mutex
	m         map[string]time.Time // key -> expireAt
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	// 惰性清理，避免常驻协程
	if now.Sub(mi.lastSweep) >= time.Minute {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
		mi.lastSweep = now
	}
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// IdemMiddleware 丢弃重复投递的 envelope（重连后重放等）
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env Envelope) {
			if seen, _ := store.SeenOnce(env.ID, ttl); seen {
				return
			}
			next(ctx, env)
		}
	}
}
