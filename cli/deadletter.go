package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"PPMall/service/reconcile"
	redisSrv "PPMall/service/storage/redis"

	"github.com/spf13/cobra"
)

func NewDeadLetterCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect, replay or drop stock deltas that exhausted their retries",
	}

	var limit int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered deltas (oldest first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeadLetters(cmd.Context(), root, func(ctx context.Context, s *reconcile.RedisDeadLetters) error {
				items, err := s.List(ctx, limit)
				if err != nil {
					return err
				}
				return root.output(cmd.OutOrStdout(), items, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tOP_ID\tSKU\tQTY\tATTEMPTS\tFAILED_AT\tREASON")
					for _, d := range items {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
							d.ID, d.OpID, d.SkuID, d.Quantity, d.Attempts, d.FailedAt.Format(time.RFC3339), d.Reason)
					}
					_ = tw.Flush()
				})
			})
		},
	}
	list.Flags().Int64Var(&limit, "limit", 100, "max entries")

	replay := &cobra.Command{
		Use:   "replay <id>",
		Short: "Put a dead-lettered delta back on the delta stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeadLetters(cmd.Context(), root, func(ctx context.Context, s *reconcile.RedisDeadLetters) error {
				if err := s.Replay(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "replayed", args[0])
				return nil
			})
		},
	}

	drop := &cobra.Command{
		Use:   "drop <id>",
		Short: "Discard a dead-lettered delta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeadLetters(cmd.Context(), root, func(ctx context.Context, s *reconcile.RedisDeadLetters) error {
				if err := s.Drop(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dropped", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, replay, drop)
	return cmd
}

// withDeadLetters 死信的权威副本总在 Redis 流里，kafka 只是镜像
func withDeadLetters(ctx context.Context, root *RootOptions, f func(ctx context.Context, s *reconcile.RedisDeadLetters) error) error {
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

	s := reconcile.NewRedisDeadLetters(rdb)
	s.Stream = cfg.Reconcile.DeadStream
	s.DeltaStream = cfg.Reconcile.Stream
	return f(ctx, s)
}
