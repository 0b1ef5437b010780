package service

import (
	"context"
	"log/slog"
	"time"

	httpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/inbound/http"
	"github.com/wardenlabs/mcp-warden/internal/domain/catalog"
	"github.com/wardenlabs/mcp-warden/internal/domain/routes"
)

// reloadRegistry rebuilds the routing table from the store. Shared by the
// poller, the check scheduler notification path, and admin mutations.
func reloadRegistry(ctx context.Context, store catalog.Store, registry *routes.Registry, metrics *httpadapter.Metrics, logger *slog.Logger) {
	svcs, err := store.ListServices(ctx)
	if err != nil {
		logger.Error("registry reload failed", "error", err)
		return
	}
	rts := make([]routes.Route, 0, len(svcs))
	for _, svc := range svcs {
		rts = append(rts, routes.Route{
			Name:        svc.Name,
			UpstreamURL: svc.UpstreamURL,
			Enabled:     svc.Enabled,
		})
	}
	registry.Reload(rts)
	if metrics != nil {
		metrics.RegistryReloadsTotal.Inc()
		metrics.RegisteredServices.Set(float64(len(rts)))
	}
	logger.Debug("routing table reloaded", "services", len(rts))
}

// RegistryPoller keeps the routing table in sync with the store. It reloads
// on a fixed interval and immediately when the check scheduler signals that
// a service's routing changed.
type RegistryPoller struct {
	store    catalog.Store
	registry *routes.Registry
	logger   *slog.Logger
	metrics  *httpadapter.Metrics

	interval time.Duration
	changed  <-chan struct{}
}

// NewRegistryPoller builds the poller. changed carries change signals from
// the check scheduler; it may be nil when no scheduler runs.
func NewRegistryPoller(store catalog.Store, registry *routes.Registry, logger *slog.Logger, metrics *httpadapter.Metrics, interval time.Duration, changed <-chan struct{}) *RegistryPoller {
	return &RegistryPoller{
		store:    store,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
		changed:  changed,
	}
}

// Run loads the table once, then reloads on every tick or change signal
// until ctx is cancelled.
func (p *RegistryPoller) Run(ctx context.Context) {
	p.logger.Info("registry poller started", "interval", p.interval)
	reloadRegistry(ctx, p.store, p.registry, p.metrics, p.logger)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("registry poller stopped")
			return
		case <-ticker.C:
			reloadRegistry(ctx, p.store, p.registry, p.metrics, p.logger)
		case <-p.changed:
			p.logger.Info("routing change signalled, reloading")
			reloadRegistry(ctx, p.store, p.registry, p.metrics, p.logger)
		}
	}
}
