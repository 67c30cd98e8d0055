package cli

import (
	"fmt"
	"io"
	"time"

	"PPMall/module/identity"
	"PPMall/tools/security"

	"github.com/spf13/cobra"
)

type tokenOut struct {
	Principal identity.Principal `json:"principal"`
	Token     string             `json:"token"`
	ExpireAt  time.Time          `json:"expire_at"`
}

// NewTokenCommand 给运维/联调签发令牌，例如 ppmall token admin:1
func NewTokenCommand(root *RootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <role:id>",
		Short: "Issue a signed access token for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := identity.ParsePrincipal(args[0])
			if err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			opts := security.Options{Secret: []byte(cfg.JWT.Secret), Alg: cfg.JWT.Alg, TTL: cfg.JWT.TTL}
			if ttl > 0 {
				opts.TTL = ttl
			}
			tok, exp, err := security.Generate(opts, p)
			if err != nil {
				return err
			}
			out := tokenOut{Principal: p, Token: tok, ExpireAt: exp}
			return root.output(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintln(w, tok)
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "override JWT_TTL")
	return cmd
}
