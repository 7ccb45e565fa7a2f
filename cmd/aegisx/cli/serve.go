package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aegisx/aegisx/internal/license"
	"github.com/aegisx/aegisx/internal/server"
	"github.com/aegisx/aegisx/internal/server/middleware"
)

const banner = `
    _               _
   /_\  ___ __ _ __(_)_ __
  / _ \/ -_) _' (_-< \ \ /
 /_/ \_\___\__, /__/_/_\_\
           |___/
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aegisx API server",
		Long:  "Start the HTTP server that verifies API keys, reports the license and manages keys for admins.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "127.0.0.1", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(parent context.Context, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	level := viper.GetString("log.level")
	if dev {
		level = "debug"
	}
	logger := newLogger(level)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Credential store
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store initialized", "driver", store.Driver())

	// 2. Auth service and license validator
	authSvc, err := newAuthService(ctx, store, logger)
	if err != nil {
		return err
	}
	validator, file, err := newValidator(store, logger)
	if err != nil {
		return err
	}
	metrics := middleware.NewMetrics()

	// 3. Report the license now and whenever the file changes
	reportLicense := func() {
		res := validator.Validate(ctx)
		metrics.SetLicenseStatus(string(res.Status), license.AllStatuses())
		attrs := []any{"status", res.Status, "source", res.Source}
		if res.Entitlement != nil {
			attrs = append(attrs, "tier", res.Entitlement.Tier)
			if res.Entitlement.DaysRemaining != nil {
				attrs = append(attrs, "days_remaining", *res.Entitlement.DaysRemaining)
			}
		}
		lvl := slog.LevelInfo
		if res.Status != license.StatusValid {
			lvl = slog.LevelWarn
		}
		logger.Log(ctx, lvl, "license", attrs...)
	}
	reportLicense()
	if err := file.Watch(ctx, logger, reportLicense); err != nil {
		logger.Warn("license file watch disabled", "error", err)
	}

	// 4. Build and start HTTP server
	srvCfg := server.Config{
		Host:            viper.GetString("server.host"),
		Port:            viper.GetInt("server.port"),
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     viper.GetStringSlice("server.cors.origins"),
		RateLimit:       viper.GetInt("server.rate_limit"),
	}
	srv := server.New(srvCfg, store, authSvc, validator, metrics, logger)

	fmt.Printf("→ aegisx %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ License:    %s\n", file.Path)
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
