package reconcile

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"PPMall/data/database/pg"
	"PPMall/service/stock"
	"PPMall/tools/errs"
	"PPMall/tools/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要真实 Postgres：PPMALL_TEST_PG_DSN=postgres://... go test ./service/reconcile/
func newTestPgLedger(t *testing.T) *PgLedger {
	t.Helper()
	dsn := os.Getenv("PPMALL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PPMALL_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, pg.Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	l := NewPgLedger(pool)
	require.NoError(t, l.EnsureSchema(ctx))
	return l
}

func TestPgLedgerApplyIsIdempotent(t *testing.T) {
	l := newTestPgLedger(t)
	ctx := context.Background()
	sku := ids.Generate()
	require.NoError(t, l.PutAvailable(ctx, sku, 10))

	d := stock.Delta{OpID: ids.NewOpID(), SkuID: sku, Quantity: -3, CreatedAt: time.Now()}
	applied, err := l.ApplyDelta(ctx, d)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = l.ApplyDelta(ctx, d)
	require.NoError(t, err)
	assert.False(t, applied)

	units, err := l.LoadAvailable(ctx, sku)
	require.NoError(t, err)
	assert.Equal(t, int64(7), units)
}

func TestPgLedgerUnknownSkuRollsBack(t *testing.T) {
	l := newTestPgLedger(t)
	ctx := context.Background()
	sku := ids.Generate()

	d := stock.Delta{OpID: ids.NewOpID(), SkuID: sku, Quantity: -1, CreatedAt: time.Now()}
	_, err := l.ApplyDelta(ctx, d)
	assert.True(t, errors.Is(err, errs.ErrUnknownSku))

	// 去重记录随事务回滚，SKU 补录后同一 op_id 还能落账
	require.NoError(t, l.PutAvailable(ctx, sku, 5))
	applied, err := l.ApplyDelta(ctx, d)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = l.LoadAvailable(ctx, ids.Generate())
	assert.True(t, errors.Is(err, errs.ErrUnknownSku))
}
