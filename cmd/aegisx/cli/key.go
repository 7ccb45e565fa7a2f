package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/config"
	"github.com/aegisx/aegisx/internal/credential"
	"github.com/aegisx/aegisx/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke and verify scoped API keys.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyVerifyCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		label  string
		scopes []string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new scoped API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  aegisx key create --label "CI pipeline" --scope users:read,write
  aegisx key create --label ops --scope '*:*' --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(cmd.Context(), cmd.OutOrStdout(), label, scopes, ttl)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "Scope as resource:action[,action] (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Key lifetime, e.g. 720h (default: never expires)")

	return cmd
}

func runKeyCreate(ctx context.Context, out io.Writer, label string, rawScopes []string, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	scopes := make([]apikey.Scope, 0, len(rawScopes))
	for _, s := range rawScopes {
		sc, err := apikey.ParseScope(s)
		if err != nil {
			return err
		}
		scopes = append(scopes, sc)
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
	issued, err := authSvc.IssueAPIKey(ctx, service.IssueRequest{Label: label, Scopes: scopes, TTL: ttl})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	rec := issued.Record
	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:     %s\n", issued.Credential.FullSecret)
	fmt.Fprintf(out, "  Prefix:  %s\n", rec.KeyPrefix)
	if label != "" {
		fmt.Fprintf(out, "  Label:   %s\n", label)
	}
	if len(scopes) > 0 {
		fmt.Fprintf(out, "  Scopes:  %s\n", apikey.FormatScopes(scopes))
	} else {
		fmt.Fprintln(out, "  Scopes:  (none - the key can authenticate but is not authorized for anything)")
	}
	if rec.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires: %s\n", formatTime(rec.ExpiresAt))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, out io.Writer, jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		Prefix   string         `json:"prefix"`
		Preview  string         `json:"preview"`
		Label    string         `json:"label"`
		Scopes   []apikey.Scope `json:"scopes"`
		Status   string         `json:"status"`
		Expires  *time.Time     `json:"expires_at,omitempty"`
		LastUsed *time.Time     `json:"last_used,omitempty"`
	}

	now := time.Now()
	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			Prefix:   k.KeyPrefix,
			Preview:  k.Preview,
			Label:    k.Label,
			Scopes:   k.Scopes,
			Status:   k.Status(now),
			Expires:  k.ExpiresAt,
			LastUsed: k.LastUsed,
		}
	}

	if jsonOutput {
		return printJSON(out, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No API keys configured. Use 'aegisx key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-10s %-20s %-8s %-17s %s\n", "PREFIX", "PREVIEW", "LABEL", "STATUS", "LAST USED", "SCOPES")
	fmt.Fprintf(out, "%-10s %-10s %-20s %-8s %-17s %s\n", "------", "-------", "-----", "------", "---------", "------")
	for _, k := range rows {
		fmt.Fprintf(out, "%-10s %-10s %-20s %-8s %-17s %s\n",
			k.Prefix, k.Preview, k.Label, k.Status, formatTime(k.LastUsed), apikey.FormatScopes(k.Scopes))
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Revoke an API key, rejecting any further requests made with it. The record is kept for auditing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	return cmd
}

func runKeyRevoke(ctx context.Context, out io.Writer, prefix string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RevokeAPIKeyByPrefix(ctx, prefix); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no active API key found with prefix %q", prefix)
		}
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Fprintf(out, "Revoked API key with prefix %q\n", prefix)
	return nil
}

// ---------- key verify ----------

func newKeyVerifyCmd() *cobra.Command {
	var resource, action string

	cmd := &cobra.Command{
		Use:   "verify <key>",
		Short: "Verify an API key and optionally check a scope",
		Example: `  aegisx key verify ak_0123abcd_...
  aegisx key verify ak_0123abcd_... --resource users --action write`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyVerify(cmd.Context(), cmd.OutOrStdout(), args[0], resource, action)
		},
	}

	cmd.Flags().StringVar(&resource, "resource", "", "Resource to authorize")
	cmd.Flags().StringVar(&action, "action", "", "Action to authorize")

	return cmd
}

func runKeyVerify(ctx context.Context, out io.Writer, rawKey, resource, action string) error {
	if (resource == "") != (action == "") {
		return fmt.Errorf("--resource and --action must be given together")
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
	defer authSvc.Wait()

	p, err := authSvc.VerifyAPIKey(ctx, rawKey)
	if err != nil {
		return withRemediation(err)
	}
	fmt.Fprintf(out, "Key %s is valid\n", apikey.MaskKey(rawKey))
	if p.Label != "" {
		fmt.Fprintf(out, "  Label:  %s\n", p.Label)
	}
	fmt.Fprintf(out, "  Scopes: %s\n", apikey.FormatScopes(p.Scopes))

	if resource != "" {
		if err := authSvc.Authorize(p, resource, action); err != nil {
			return withRemediation(err)
		}
		fmt.Fprintf(out, "  Allowed: %s on %s\n", action, resource)
	}
	return nil
}

// withRemediation appends the user-facing hint for credential errors.
func withRemediation(err error) error {
	if hint := credential.Remediation(err); hint != "" {
		return fmt.Errorf("%w (%s)", err, hint)
	}
	return err
}
