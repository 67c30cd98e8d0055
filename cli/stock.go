package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"PPMall/data/database/pg"
	"PPMall/global/config"
	"PPMall/service/reconcile"
	"PPMall/service/stock"
	redisSrv "PPMall/service/storage/redis"
	"PPMall/tools/errs"

	"github.com/spf13/cobra"
)

func NewStockCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Seed or inspect the Redis stock counter against the Postgres ledger",
	}

	var units int64
	seed := &cobra.Command{
		Use:   "seed <sku>",
		Short: "Overwrite the counter from the ledger, or set both with --units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sku, err := parseSku(args[0])
			if err != nil {
				return err
			}
			var u *int64
			if cmd.Flags().Changed("units") {
				u = &units
			}
			return withStockAdmin(cmd.Context(), root, func(ctx context.Context, a *stock.Admin) error {
				n, err := a.Seed(ctx, sku, u)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sku %d seeded with %d units\n", sku, n)
				return nil
			})
		},
	}
	seed.Flags().Int64Var(&units, "units", 0, "set ledger and counter to this value")

	get := &cobra.Command{
		Use:   "get <sku>",
		Short: "Show counter and ledger values for a SKU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sku, err := parseSku(args[0])
			if err != nil {
				return err
			}
			return withStockAdmin(cmd.Context(), root, func(ctx context.Context, a *stock.Admin) error {
				v, err := a.Get(ctx, sku)
				if err != nil {
					return err
				}
				return root.output(cmd.OutOrStdout(), v, func(w io.Writer) {
					fmt.Fprintf(w, "sku %d: counter=%s ledger=%s\n", sku, optInt(v.Counter), optInt(v.Ledger))
				})
			})
		},
	}

	cmd.AddCommand(seed, get)
	return cmd
}

func parseSku(s string) (int64, error) {
	sku, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sku <= 0 {
		return 0, errs.ErrArgs.WrapMsg("invalid sku", "sku", s)
	}
	return sku, nil
}

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func withStockAdmin(ctx context.Context, root *RootOptions, f func(ctx context.Context, a *stock.Admin) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := root.load()
	if err != nil {
		return err
	}
	rdb, err := redisSrv.NewClient(ctx, redisConfig(cfg))
	if err != nil {
		return err
	}
	defer rdb.Close()
	pool, err := pg.NewPool(ctx, pg.Config{DSN: cfg.Postgres.DSN, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	engine := stock.NewEngine(rdb)
	engine.DeltaStream = cfg.Reconcile.Stream
	return f(ctx, &stock.Admin{Engine: engine, Ledger: reconcile.NewPgLedger(pool)})
}

func redisConfig(cfg *config.AppConfig) redisSrv.Config {
	return redisSrv.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: 2,
	}
}
