package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aegisx/aegisx/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, shown by serve
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aegisx",
		Short: "Issue API keys and manage local licenses",
		Long: `aegisx issues and verifies scoped API keys and validates the local product license.

API keys are stored as bcrypt hashes and checked against allow-only resource scopes.
Licenses are offline keys of the form AEGISX-TIER-SERIAL-CHECKSUM that unlock the
features of their tier.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./aegisx.yaml or ~/.aegisx/aegisx.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store and license file (default: ~/.aegisx)")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newLicenseCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newBenchmarkCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("aegisx")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.aegisx")
	}

	setDefaults(config.DefaultYAMLConfig())

	viper.SetEnvPrefix("AEGISX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}

// setDefaults registers every config key so that environment overrides
// apply even when no config file exists.
func setDefaults(d *config.YAMLConfig) {
	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.rate_limit", d.Server.RateLimit)
	viper.SetDefault("server.cors.origins", d.Server.CORS.Origins)
	viper.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	viper.SetDefault("auth.hash_workers", d.Auth.HashWorkers)
	viper.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	viper.SetDefault("auth.jwt_expiry", d.Auth.JWTExpiry)
	viper.SetDefault("store.driver", d.Store.Driver)
	viper.SetDefault("store.dsn", d.Store.DSN)
	viper.SetDefault("license.file", d.License.File)
	viper.SetDefault("log.level", d.Log.Level)
}
