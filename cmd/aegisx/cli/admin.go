package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative access to the management API",
		Long:  "Issue admin tokens for the /api/v1/system endpoints of a running server.",
	}

	cmd.AddCommand(newAdminTokenCmd())

	return cmd
}

// ---------- admin token ----------

func newAdminTokenCmd() *cobra.Command {
	var (
		ttl     time.Duration
		subject string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token",
		Long: `Issue a signed admin token. Anyone who can read the local store can mint
tokens, so the command is only as privileged as the machine it runs on.`,
		Example: `  aegisx admin token --ttl 1h
  curl -H "Authorization: Bearer $(aegisx admin token)" localhost:8080/api/v1/system/api-key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminToken(cmd.Context(), cmd.OutOrStdout(), subject, ttl)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.jwt_expiry, 1h)")
	cmd.Flags().StringVar(&subject, "subject", "cli", "Subject recorded in the token")

	return cmd
}

func runAdminToken(ctx context.Context, out io.Writer, subject string, ttl time.Duration) error {
	if ttl == 0 {
		d, err := time.ParseDuration(viper.GetString("auth.jwt_expiry"))
		if err != nil {
			return fmt.Errorf("invalid auth.jwt_expiry: %w", err)
		}
		ttl = d
	}
	if ttl <= 0 {
		return fmt.Errorf("token lifetime must be positive")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	authSvc, err := newAuthService(ctx, store, quietLogger())
	if err != nil {
		return err
	}
	token, err := authSvc.IssueJWT(ctx, subject, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
