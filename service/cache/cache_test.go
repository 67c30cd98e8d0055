package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newSched(t *testing.T, size int) *Scheduler {
	t.Helper()
	s, err := NewScheduler(size)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// 写期间并发读把旧值回填进缓存，第二次删除要把它清掉
func TestDoubleDeleteClearsStaleRefill(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	inv := NewInvalidator(rdb, newSched(t, 8), 50*time.Millisecond)
	key := CartKey(1)
	mr.Set(key, `{"items":1}`)

	err := inv.WithWrite(ctx, func(ctx context.Context) error {
		assert.False(t, mr.Exists(key))
		// 模拟慢读回填
		mr.Set(key, `{"items":1}`)
		return nil
	}, key)
	require.NoError(t, err)

	assert.True(t, mr.Exists(key), "stale value visible until second delete")
	require.Eventually(t, func() bool { return !mr.Exists(key) }, time.Second, 10*time.Millisecond)

	// 第二次删除之后的读取拿到写后的数据
	type cart struct {
		Items int `json:"items"`
	}
	got, err := GetOrLoad(ctx, rdb, key, time.Minute, func(context.Context) (cart, error) {
		return cart{Items: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Items)

	got, err = GetOrLoad(ctx, rdb, key, time.Minute, func(context.Context) (cart, error) {
		t.Fatal("cached value expected")
		return cart{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Items)
}

func TestWithWriteFailureSkipsSecondDelete(t *testing.T) {
	mr, rdb := newRedis(t)
	sched := newSched(t, 8)
	inv := NewInvalidator(rdb, sched, 20*time.Millisecond)
	key := DashboardKey(2)

	boom := errors.New("boom")
	err := inv.WithWrite(context.Background(), func(context.Context) error {
		mr.Set(key, "v")
		return boom
	}, key)
	assert.ErrorIs(t, err, boom)
	time.Sleep(60 * time.Millisecond)
	assert.True(t, mr.Exists(key))
}

func TestSchedulerFullDeletesImmediately(t *testing.T) {
	mr, rdb := newRedis(t)
	sched := newSched(t, 1)
	block := make(chan struct{})
	require.NoError(t, sched.After(time.Hour, func() { <-block }))
	defer close(block)

	require.ErrorIs(t, sched.After(time.Millisecond, func() {}), ErrSchedulerFull)

	inv := NewInvalidator(rdb, sched, time.Hour)
	key := CategoryKey(3)
	mr.Set(key, "v")
	inv.InvalidateAfterWrite(key)
	assert.False(t, mr.Exists(key))
}

func TestSchedulerCloseFlushesPending(t *testing.T) {
	s, err := NewScheduler(4)
	require.NoError(t, err)
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, s.After(time.Hour, func() { ran.Add(1) }))
	}
	s.Close()
	assert.Equal(t, int32(3), ran.Load())
	assert.ErrorIs(t, s.After(0, func() {}), ErrSchedulerFull)
}

func TestGetOrLoad(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	type view struct {
		Orders int `json:"orders"`
	}
	var loads atomic.Int32
	load := func(context.Context) (view, error) {
		loads.Add(1)
		return view{Orders: 5}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(ctx, rdb, DashboardKey(7), time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, 5, v.Orders)
	}
	assert.Equal(t, int32(1), loads.Load())

	_, err := GetOrLoad(ctx, rdb, DashboardKey(8), time.Minute, func(context.Context) (view, error) {
		return view{}, errors.New("db down")
	})
	assert.Error(t, err)
}
