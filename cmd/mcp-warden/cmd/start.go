package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/mcp-warden/internal/adapter/inbound/admin"
	"github.com/wardenlabs/mcp-warden/internal/adapter/inbound/gateway"
	httpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/inbound/http"
	mcpclient "github.com/wardenlabs/mcp-warden/internal/adapter/outbound/mcp"
	"github.com/wardenlabs/mcp-warden/internal/adapter/outbound/sqlite"
	"github.com/wardenlabs/mcp-warden/internal/config"
	"github.com/wardenlabs/mcp-warden/internal/domain/routes"
	"github.com/wardenlabs/mcp-warden/internal/service"
	"github.com/wardenlabs/mcp-warden/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy server",
	Long: `Start the mcp-warden proxy server.

The server exposes:
  /{service}/mcp     proxy endpoint for each approved service
  /api/admin/...     admin API (basic auth, unless admin.disable_ui)
  /health, /metrics  operational endpoints

Examples:
  # Start with config file settings
  mcp-warden start

  # Start with a specific config file
  mcp-warden --config /path/to/config.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Server.LogLevel)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("mcp-warden stopped")
	return nil
}

// run wires all components together and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, err := sqlite.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing database failed", "error", err)
		}
	}()
	logger.Info("database opened", "path", cfg.Database.URL)

	registry := routes.NewRegistry()
	promRegistry := prometheus.NewRegistry()
	metrics := httpadapter.NewMetrics(promRegistry)

	caller := mcpclient.NewClient(
		mcpclient.WithTimeout(time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second),
	)
	snapshotter := service.NewSnapshotter(caller, logger)

	adminSvc := service.NewAdminService(
		store, registry, snapshotter, logger, metrics,
		cfg.BaseURL, cfg.Polling.MinCheckFrequency,
	)

	adminSvc.SeedFromConfig(ctx, seedsFromConfig(cfg))
	adminSvc.ReloadRegistry(ctx)

	password := cfg.Admin.Password
	if password == "" && !cfg.Admin.DisableUI {
		password, err = config.GeneratePassword()
		if err != nil {
			return err
		}
		logger.Warn("admin.password not configured, generated one for this run",
			"password", password)
	}

	interval := time.Duration(cfg.Polling.IntervalSeconds) * time.Second
	changed := make(chan struct{}, 1)
	checker := service.NewCheckScheduler(store, snapshotter, logger, metrics, interval, changed)
	poller := service.NewRegistryPoller(store, registry, logger, metrics, interval, changed)

	transportOpts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.ListenAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithProxyHandler(gateway.NewHandler(registry, logger, metrics).Routes()),
		httpadapter.WithHealthChecker(httpadapter.NewHealthChecker(store, registry, Version)),
	}
	if cfg.Admin.DisableUI {
		logger.Info("admin API disabled by configuration")
	} else {
		adminHandler := admin.NewHandler(adminSvc, logger, password)
		transportOpts = append(transportOpts, httpadapter.WithAdminHandler(adminHandler.Routes()))
	}
	transport := httpadapter.NewTransport(promRegistry, transportOpts...)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		checker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	err = transport.Start(ctx)
	wg.Wait()
	return err
}

func seedsFromConfig(cfg *config.Config) []service.SeedService {
	seeds := make([]service.SeedService, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		freq := 60
		if svc.CheckFrequencyMinutes != nil {
			freq = *svc.CheckFrequencyMinutes
		}
		enabled := true
		if svc.Enabled != nil {
			enabled = *svc.Enabled
		}
		seeds = append(seeds, service.SeedService{
			Name:                  svc.Name,
			UpstreamURL:           svc.UpstreamURL,
			Enabled:               enabled,
			CheckFrequencyMinutes: freq,
		})
	}
	return seeds
}
