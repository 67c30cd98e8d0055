package pg

import (
	"context"
	"time"

	"PPMall/tools/errs"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	DSN      string
	MaxConns int32
}

// NewPool 建连接池并 Ping
func NewPool(ctx context.Context, c Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("parse postgres dsn", "err", err)
	}
	if c.MaxConns > 0 {
		pcfg.MaxConns = c.MaxConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "create pgx pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres ping failed")
	}
	return pool, nil
}
