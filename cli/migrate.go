package cli

import (
	"context"
	"fmt"

	"PPMall/data/database/mgo/mongoutil"
	"PPMall/data/database/pg"
	"PPMall/global/config"
	"PPMall/module/notify"
	"PPMall/module/order"
	"PPMall/service/reconcile"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(root *RootOptions) *cobra.Command {
	var skipMongo bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create Postgres tables and Mongo indexes (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			pool, err := pg.NewPool(ctx, pg.Config{DSN: cfg.Postgres.DSN, MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := reconcile.NewPgLedger(pool).EnsureSchema(ctx); err != nil {
				return err
			}
			if err := order.NewPgRepo(pool).EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "postgres: ok")

			if skipMongo || cfg.Notify.Store == config.NotifyStoreMemory {
				return nil
			}
			cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
				Uri:         cfg.Mongo.Uri,
				Database:    cfg.Mongo.Database,
				Username:    cfg.Mongo.Username,
				Password:    cfg.Mongo.Password,
				MaxPoolSize: 2,
				MaxRetry:    cfg.Mongo.MaxRetry,
			})
			if err != nil {
				return err
			}
			defer cli.Close(context.Background())
			if err := notify.NewMongoStore(cli.GetDB(), cfg.Notify.Retention).EnsureIndexes(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "mongo: ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMongo, "skip-mongo", false, "only migrate postgres")
	return cmd
}
