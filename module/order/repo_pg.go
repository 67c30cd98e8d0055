package order

import (
	"context"
	"errors"

	"PPMall/module/identity"
	"PPMall/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusPlaced   = "placed"
	StatusCanceled = "canceled"
)

const orderSchemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
	id         BIGINT PRIMARY KEY,
	buyer_id   BIGINT NOT NULL,
	seller_id  BIGINT NOT NULL,
	lines      JSONB NOT NULL,
	op_ids     JSONB NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS orders_seller_idx ON orders (seller_id, created_at DESC);
`

// Summary 卖家看板的聚合数据
type Summary struct {
	SellerID int64 `json:"seller_id,string"`
	Placed   int64 `json:"placed"`
	Canceled int64 `json:"canceled"`
	Units    int64 `json:"units"`
}

type PgRepo struct {
	pool *pgxpool.Pool
}

func NewPgRepo(pool *pgxpool.Pool) *PgRepo {
	return &PgRepo{pool: pool}
}

func (r *PgRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, orderSchemaSQL); err != nil {
		return errs.WrapMsg(err, "ensure order schema")
	}
	return nil
}

// Insert 作为 Checkout 的 CommitFunc
func (r *PgRepo) Insert(ctx context.Context, o *Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, buyer_id, seller_id, lines, op_ids, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.Buyer.ID, o.SellerID, o.Lines, o.OpIDs, StatusPlaced, o.CreatedAt)
	if err != nil {
		return errs.WrapMsg(err, "insert order", "id", o.ID)
	}
	return nil
}

// MarkCanceled placed -> canceled 只会成功一次；非本人或状态不对按不存在处理
func (r *PgRepo) MarkCanceled(ctx context.Context, id int64, buyer identity.Principal) (*Order, error) {
	o := &Order{ID: id, Buyer: buyer}
	err := r.pool.QueryRow(ctx,
		`UPDATE orders SET status = $3, updated_at = now()
		 WHERE id = $1 AND buyer_id = $2 AND status = $4
		 RETURNING seller_id, lines, op_ids, created_at`,
		id, buyer.ID, StatusCanceled, StatusPlaced,
	).Scan(&o.SellerID, &o.Lines, &o.OpIDs, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("order", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "cancel order", "id", id)
	}
	return o, nil
}

func (r *PgRepo) SellerSummary(ctx context.Context, sellerID int64) (Summary, error) {
	s := Summary{SellerID: sellerID}
	err := r.pool.QueryRow(ctx,
		`SELECT
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = $3),
			COALESCE(sum(l.qty) FILTER (WHERE status = $2), 0)
		 FROM orders o
		 LEFT JOIN LATERAL (
			SELECT sum((e->>'qty')::bigint) AS qty FROM jsonb_array_elements(o.lines) e
		 ) l ON true
		 WHERE o.seller_id = $1`,
		sellerID, StatusPlaced, StatusCanceled,
	).Scan(&s.Placed, &s.Canceled, &s.Units)
	if err != nil {
		return s, errs.WrapMsg(err, "seller summary", "seller", sellerID)
	}
	return s, nil
}
