package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds graceful shutdown; in-flight proxied requests get
// this long to finish.
const shutdownTimeout = 10 * time.Second

// Transport assembles the single listener all inbound traffic shares:
// health, metrics, the admin API, and the proxy gateway as catch-all.
type Transport struct {
	addr          string
	logger        *slog.Logger
	registry      *prometheus.Registry
	adminHandler  http.Handler
	proxyHandler  http.Handler
	healthChecker *HealthChecker

	server *http.Server
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) { t.addr = addr }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithAdminHandler mounts the admin API. When nil, the admin surface is
// absent entirely, matching the disable_ui configuration.
func WithAdminHandler(h http.Handler) Option {
	return func(t *Transport) { t.adminHandler = h }
}

// WithProxyHandler mounts the gateway as the catch-all route.
func WithProxyHandler(h http.Handler) Option {
	return func(t *Transport) { t.proxyHandler = h }
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) { t.healthChecker = hc }
}

// NewTransport builds the transport around a metrics registry. The
// registry also collects Go runtime and process metrics.
func NewTransport(registry *prometheus.Registry, opts ...Option) *Transport {
	t := &Transport{
		addr:     "127.0.0.1:8080",
		logger:   slog.Default(),
		registry: registry,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler returns the assembled route tree.
func (t *Transport) Handler() http.Handler {
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /health", healthHandler(t.healthChecker))
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	if t.adminHandler != nil {
		mux.Handle("/api/admin/", t.adminHandler)
	}
	if t.proxyHandler != nil {
		mux.Handle("/", t.proxyHandler)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (t *Transport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("http server listening", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	t.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return t.server.Shutdown(shutdownCtx)
}
