package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/romcoding/architex/internal/auth"
	"github.com/romcoding/architex/pkg/types"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		sub  string
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Issue a bearer token for a principal",
		Example: "  ARCHITEX_JWT_SECRET=... architex token --sub alice --role architect",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return errors.New("ARCHITEX_JWT_SECRET is not set")
			}
			if ttl <= 0 {
				ttl = cfg.Security.TokenTTL
			}
			tokens, err := auth.NewTokenService(cfg.Security.JWTSecret, ttl)
			if err != nil {
				return err
			}

			p := types.Principal{ID: sub, Role: types.Role(role)}
			if !p.Valid() {
				return fmt.Errorf("invalid principal: --sub is required and --role must be admin, architect, stakeholder or viewer")
			}
			tok, err := tokens.Issue(p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "principal ID (token subject)")
	cmd.Flags().StringVar(&role, "role", string(types.RoleViewer), "principal role")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: security.token_ttl)")
	return cmd
}
