package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"PPMall/global/config"
	"PPMall/module/identity"
	"PPMall/module/notify"
	"PPMall/service/reconcile"
	"PPMall/service/stock"
	"PPMall/tools/security"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRejectsBadFormat(t *testing.T) {
	_, err := run(t, "--format", "xml", "token", "admin:1")
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	want := map[string][]string{
		"serve":      nil,
		"deadletter": {"list", "replay", "drop"},
		"stock":      {"seed", "get"},
		"migrate":    nil,
		"token":      nil,
	}
	for name, subs := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, cmd.Name())
		for _, sub := range subs {
			c, _, err := root.Find([]string{name, sub})
			require.NoError(t, err)
			assert.Equal(t, sub, c.Name())
		}
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out, err := run(t, "--format", "json", "token", "seller:12", "--ttl", "1m")
	require.NoError(t, err)

	var got tokenOut
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, identity.Seller(12), got.Principal)
	assert.WithinDuration(t, time.Now().Add(time.Minute), got.ExpireAt, 5*time.Second)

	p, err := security.Verify(security.DefaultOptions([]byte("cli-secret")), got.Token)
	require.NoError(t, err)
	assert.Equal(t, identity.Seller(12), p)

	_, err = run(t, "token", "nobody")
	assert.Error(t, err)
}

func TestNotifyStoreInMemory(t *testing.T) {
	t.Setenv("NOTIFY_STORE", "memory")
	cfg, err := config.Load()
	require.NoError(t, err)

	store, err := notifyStore(context.Background(), &config.Deps{Cfg: cfg})
	require.NoError(t, err)
	assert.IsType(t, &notify.MemStore{}, store)
}

func TestDeadLetterCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	dead := reconcile.NewRedisDeadLetters(rdb)
	require.NoError(t, dead.Put(ctx, reconcile.DeadLetter{
		OpID: "op-a", SkuID: 42, Quantity: -1, CreatedAt: time.Now(), Reason: "ledger down", Attempts: 5, FailedAt: time.Now(),
	}))
	require.NoError(t, dead.Put(ctx, reconcile.DeadLetter{
		OpID: "op-b", SkuID: 43, Quantity: 2, CreatedAt: time.Now(), Reason: "unknown sku", Attempts: 1, FailedAt: time.Now(),
	}))

	out, err := run(t, "deadletter", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "op-a")
	assert.Contains(t, out, "unknown sku")

	out, err = run(t, "--format", "json", "deadletter", "list")
	require.NoError(t, err)
	var items []reconcile.DeadLetter
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)

	out, err = run(t, "deadletter", "replay", items[0].ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "replayed"))

	_, err = run(t, "deadletter", "drop", items[1].ID)
	require.NoError(t, err)
	_, err = run(t, "deadletter", "drop", items[1].ID)
	assert.Error(t, err)

	left, err := dead.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
	n, err := rdb.XLen(ctx, stock.DefaultDeltaStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
