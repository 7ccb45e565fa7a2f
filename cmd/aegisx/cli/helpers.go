package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/config"
	"github.com/aegisx/aegisx/internal/license"
	"github.com/aegisx/aegisx/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// AEGISX_DATA_DIR env var, or ~/.aegisx as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("AEGISX_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".aegisx")
}

// openStore opens the credential store selected by store.driver. SQLite
// lives in the data directory.
func openStore() (*config.Store, error) {
	opts := config.StoreOptions{
		Driver: viper.GetString("store.driver"),
		DSN:    viper.GetString("store.dsn"),
	}
	if opts.Driver == "" || strings.EqualFold(opts.Driver, config.DriverSQLite) {
		opts.DataDir = resolveDataDir()
	}
	store, err := config.NewStore(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func newHasher() *apikey.Hasher {
	cost := viper.GetInt("auth.bcrypt_cost")
	if cost == 0 {
		cost = apikey.DefaultCost
	}
	return apikey.NewHasher(cost, viper.GetInt("auth.hash_workers"))
}

// newAuthService builds the auth service over store, resolving the admin
// token secret from config or the store's settings.
func newAuthService(ctx context.Context, store *config.Store, logger *slog.Logger) (*service.AuthService, error) {
	secret, err := service.ResolveJWTSecret(ctx, viper.GetString("auth.jwt_secret"), store)
	if err != nil {
		return nil, err
	}
	return service.NewAuthService(store, newHasher(), secret, service.WithLogger(logger)), nil
}

// licenseFile returns license.file, the data directory's license file when
// a data directory was chosen, or ~/.aegisx/license.
func licenseFile() (*license.FileProvider, error) {
	if p := viper.GetString("license.file"); p != "" {
		return license.NewFileProvider(p), nil
	}
	if dataDir != "" || os.Getenv("AEGISX_DATA_DIR") != "" {
		return license.NewFileProvider(filepath.Join(resolveDataDir(), "license")), nil
	}
	p, err := license.DefaultFilePath()
	if err != nil {
		return nil, err
	}
	return license.NewFileProvider(p), nil
}

// newValidator returns a validator over the default provider chain. grants
// may be nil, in which case trials are anchored at the time of each check.
func newValidator(grants license.GrantStore, logger *slog.Logger) (*license.Validator, *license.FileProvider, error) {
	file, err := licenseFile()
	if err != nil {
		return nil, nil, err
	}
	opts := []license.Option{license.WithLogger(logger)}
	if grants != nil {
		opts = append(opts, license.WithGrants(grants))
	}
	return license.NewValidator(license.DefaultChain(file), opts...), file, nil
}

// newLogger builds the text logger on stderr at the given level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// quietLogger is used by one-shot commands, which report through stdout.
func quietLogger() *slog.Logger {
	return newLogger("warn")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
