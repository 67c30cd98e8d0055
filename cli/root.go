package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"PPMall/global/config"

	"github.com/spf13/cobra"
)

// RootOptions 所有子命令共享
type RootOptions struct {
	Format string // "json" | "text"

	// load 读取配置；测试可替换
	load func() (*config.AppConfig, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{load: config.Load}

	cmd := &cobra.Command{
		Use:   "ppmall",
		Short: "PPMall state-sync core: stock reservation, reconciliation and realtime delivery",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDeadLetterCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	return cmd
}

// Execute 入口；返回进程退出码
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// output json 模式下整体输出，text 模式下调用 text
func (o *RootOptions) output(w io.Writer, v any, text func(w io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
