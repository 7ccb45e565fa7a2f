package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aegisx/aegisx/internal/credential"
	"github.com/aegisx/aegisx/internal/license"
)

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage the local license",
		Long: `Activate, inspect and remove the license key stored on this machine.

The key is read from $AEGISX_LICENSE_KEY when set, otherwise from the license
file (~/.aegisx/license by default).`,
	}

	cmd.AddCommand(newLicenseActivateCmd())
	cmd.AddCommand(newLicenseDeactivateCmd())
	cmd.AddCommand(newLicenseStatusCmd())
	cmd.AddCommand(newLicenseTrialCmd())
	cmd.AddCommand(newLicenseCheckCmd())

	return cmd
}

// openLicense returns a validator anchored on the store's grant records and
// a close func for the store.
func openLicense() (*license.Validator, *license.FileProvider, func(), error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, nil, err
	}
	v, file, err := newValidator(store, quietLogger())
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return v, file, func() { store.Close() }, nil
}

// ---------- license activate ----------

func newLicenseActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate [key]",
		Short: "Validate and store a license key",
		Long:  "Validate a license key and store it in the license file. The key is prompted for when omitted.",
		Example: `  aegisx license activate AEGISX-PRO-ABCDEF12-C4
  aegisx license activate   # prompts without echo`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				k, err := promptKey(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				key = k
			}
			return runLicenseActivate(cmd.Context(), cmd.OutOrStdout(), key)
		},
	}

	return cmd
}

// promptKey reads a key without echo when stdin is a terminal, or a single
// line otherwise.
func promptKey(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "License key: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read license key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read license key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runLicenseActivate(ctx context.Context, out io.Writer, key string) error {
	v, file, closeStore, err := openLicense()
	if err != nil {
		return err
	}
	defer closeStore()

	// Validate before writing so a typo never replaces a working license.
	res := v.Evaluate(ctx, key)
	if res.Status != license.StatusValid {
		return withRemediation(fmt.Errorf("license not activated: %w", res.Err))
	}

	if err := file.Save(ctx, strings.ToUpper(strings.TrimSpace(key))); err != nil {
		return err
	}

	fmt.Fprintf(out, "License %s activated\n", res.Key)
	printEntitlement(out, res.Entitlement)
	if os.Getenv(license.EnvVar) != "" {
		fmt.Fprintf(out, "\nNote: $%s is set and takes precedence over the stored key.\n", license.EnvVar)
	}
	return nil
}

// ---------- license deactivate ----------

func newLicenseDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Remove the stored license key",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := licenseFile()
			if err != nil {
				return err
			}
			if err := file.Remove(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed license from %s\n", file.Path)
			return nil
		},
	}
}

// ---------- license status ----------

func newLicenseStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current license and its entitlement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseStatus(cmd.Context(), cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runLicenseStatus(ctx context.Context, out io.Writer, jsonOutput bool) error {
	v, _, closeStore, err := openLicense()
	if err != nil {
		return err
	}
	defer closeStore()

	res := v.Validate(ctx)
	if jsonOutput {
		type statusJSON struct {
			license.Result
			Reason      string `json:"reason,omitempty"`
			Remediation string `json:"remediation,omitempty"`
		}
		s := statusJSON{Result: res}
		if res.Err != nil {
			s.Reason = credential.Code(res.Err)
			s.Remediation = credential.Remediation(res.Err)
		}
		return printJSON(out, s)
	}

	fmt.Fprintf(out, "Status:  %s\n", res.Status)
	if res.Source != "" {
		fmt.Fprintf(out, "Source:  %s\n", res.Source)
	}
	if res.Key != "" {
		fmt.Fprintf(out, "Key:     %s\n", res.Key)
	}
	if res.Entitlement != nil {
		printEntitlement(out, res.Entitlement)
	}
	if res.Err != nil {
		if hint := credential.Remediation(res.Err); hint != "" {
			fmt.Fprintf(out, "\n%s\n", hint)
		}
	}
	return nil
}

func printEntitlement(out io.Writer, e *license.Entitlement) {
	if e == nil {
		return
	}
	seats := fmt.Sprint(e.DeveloperSeats)
	if e.DeveloperSeats == license.Unlimited {
		seats = "unlimited"
	}
	fmt.Fprintf(out, "Tier:    %s\n", e.TierName)
	fmt.Fprintf(out, "Seats:   %s\n", seats)
	fmt.Fprintf(out, "Features: %s\n", strings.Join(e.Features, ", "))
	if e.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires: %s (%d days remaining)\n", formatTime(e.ExpiresAt), *e.DaysRemaining)
	}
}

// ---------- license trial ----------

func newLicenseTrialCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "trial",
		Short: "Generate and activate a 14-day trial license",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseTrial(cmd.Context(), cmd.OutOrStdout(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace a currently valid license")

	return cmd
}

func runLicenseTrial(ctx context.Context, out io.Writer, force bool) error {
	v, _, closeStore, err := openLicense()
	if err != nil {
		return err
	}
	current := v.Validate(ctx)
	closeStore()
	if current.Status == license.StatusValid && !force {
		return fmt.Errorf("a valid %s license is already active (use --force to replace it)", current.Entitlement.TierName)
	}

	key, err := license.GenerateTrialKey()
	if err != nil {
		return err
	}
	return runLicenseActivate(ctx, out, key)
}

// ---------- license check ----------

func newLicenseCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <feature>",
		Short: "Check whether the license includes a feature",
		Long: "Exit successfully when the current license includes the feature, or fail with a remediation hint.\n\n" +
			"Features: " + strings.Join(license.AllFeatures(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseCheck(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runLicenseCheck(ctx context.Context, out io.Writer, feature string) error {
	v, _, closeStore, err := openLicense()
	if err != nil {
		return err
	}
	defer closeStore()

	fc := v.CheckFeature(ctx, feature)
	if !fc.Allowed {
		return withRemediation(fc.Err)
	}
	fmt.Fprintf(out, "%s is included in your license\n", feature)
	return nil
}
