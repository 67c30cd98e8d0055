package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"PPMall/module/identity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *recorder) handle(_ context.Context, env Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisBusFansOutToEverySubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	// 两个“进程”各自一个 client 和订阅
	b1 := NewRedisBus(newRedisClient(t, mr), "test.events")
	b2 := NewRedisBus(newRedisClient(t, mr), "test.events")
	defer b1.Close()
	defer b2.Close()

	var r1, r2 recorder
	require.NoError(t, b1.Subscribe(ctx, r1.handle))
	require.NoError(t, b2.Subscribe(ctx, r2.handle))

	const n = 50
	for i := 0; i < n; i++ {
		env, err := NewEnvelope(To(identity.Buyer(int64(i+1))), "seq", i)
		require.NoError(t, err)
		require.NoError(t, b1.Publish(ctx, env))
	}

	for _, r := range []*recorder{&r1, &r2} {
		require.Eventually(t, func() bool { return len(r.snapshot()) == n }, 2*time.Second, 10*time.Millisecond)
		// 同一发布者的顺序保持
		for i, env := range r.snapshot() {
			assert.Equal(t, int64(i+1), env.Target.Principal.ID)
		}
	}
}

func TestRedisBusDropsMalformedAndDuplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb := newRedisClient(t, mr)

	b := NewRedisBus(rdb, "", IdemMiddleware(NewMemIdem(time.Minute), 0))
	defer b.Close()
	var r recorder
	require.NoError(t, b.Subscribe(ctx, r.handle))

	require.NoError(t, rdb.Publish(ctx, DefaultSubject, "not json").Err())
	env, err := NewEnvelope(Broadcast(identity.RoleAdmin), "ops.alert", "x")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, env))
	require.NoError(t, b.Publish(ctx, env))
	last, err := NewEnvelope(Broadcast(identity.RoleAdmin), "ops.alert", "y")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, last))

	require.Eventually(t, func() bool { return len(r.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := r.snapshot()
	assert.Equal(t, env.ID, got[0].ID)
	assert.Equal(t, last.ID, got[1].ID)
}

func TestRedisBusSubscribeAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBus(newRedisClient(t, mr), "")
	require.NoError(t, b.Close())
	require.Error(t, b.Subscribe(context.Background(), func(context.Context, Envelope) {}))
}
