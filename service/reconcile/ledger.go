package reconcile

import (
	"context"
	"errors"

	"PPMall/service/stock"
	"PPMall/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger 关系库里的权威库存账本
type Ledger interface {
	// ApplyDelta 按 op_id 幂等地累加；重复的 op_id 返回 applied=false
	ApplyDelta(ctx context.Context, d stock.Delta) (applied bool, err error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sku_stock (
	sku_id          BIGINT PRIMARY KEY,
	available_units BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS stock_reconciliation_applied (
	op_id      TEXT PRIMARY KEY,
	sku_id     BIGINT NOT NULL,
	quantity   BIGINT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type PgLedger struct {
	pool *pgxpool.Pool
}

func NewPgLedger(pool *pgxpool.Pool) *PgLedger {
	return &PgLedger{pool: pool}
}

func (l *PgLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schemaSQL); err != nil {
		return errs.WrapMsg(err, "ensure ledger schema")
	}
	return nil
}

// ApplyDelta 去重记录与库存更新在同一事务里提交
func (l *PgLedger) ApplyDelta(ctx context.Context, d stock.Delta) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO stock_reconciliation_applied (op_id, sku_id, quantity) VALUES ($1, $2, $3)
			 ON CONFLICT (op_id) DO NOTHING`,
			d.OpID, d.SkuID, d.Quantity)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil // 已应用过
		}
		tag, err = tx.Exec(ctx,
			`UPDATE sku_stock SET available_units = available_units + $2, updated_at = now() WHERE sku_id = $1`,
			d.SkuID, d.Quantity)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrUnknownSku.WrapMsg("sku missing in ledger", "sku", d.SkuID)
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrUnknownSku) {
			return false, err
		}
		return false, errs.ErrLedgerApply.WrapMsg("apply delta", "op_id", d.OpID, "err", err)
	}
	return applied, nil
}

// LoadAvailable 供计数器丢失时回填
func (l *PgLedger) LoadAvailable(ctx context.Context, skuID int64) (int64, error) {
	var units int64
	err := l.pool.QueryRow(ctx, `SELECT available_units FROM sku_stock WHERE sku_id = $1`, skuID).Scan(&units)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.ErrUnknownSku.WrapMsg("sku missing in ledger", "sku", skuID)
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "load available", "sku", skuID)
	}
	return units, nil
}

// PutAvailable 上架/运维直接写账本
func (l *PgLedger) PutAvailable(ctx context.Context, skuID, units int64) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO sku_stock (sku_id, available_units) VALUES ($1, $2)
		 ON CONFLICT (sku_id) DO UPDATE SET available_units = EXCLUDED.available_units, updated_at = now()`,
		skuID, units)
	if err != nil {
		return errs.WrapMsg(err, "put available", "sku", skuID)
	}
	return nil
}
