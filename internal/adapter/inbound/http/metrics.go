// Package http provides the HTTP transport adapter: server assembly,
// health, and Prometheus metrics.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded for snapshot checks.
const (
	CheckOutcomeUnchanged = "unchanged"
	CheckOutcomeDiverged  = "diverged"
	CheckOutcomeBaseline  = "baseline"
	CheckOutcomeError     = "error"
)

// Metrics holds all Prometheus metrics for mcp-warden.
// Pass to components that need to record metrics.
type Metrics struct {
	ProxyRequestsTotal   *prometheus.CounterVec
	ProxyRequestDuration *prometheus.HistogramVec
	SnapshotChecksTotal  *prometheus.CounterVec
	DivergencesTotal     prometheus.Counter
	RegistryReloadsTotal prometheus.Counter
	RegisteredServices   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ProxyRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpwarden",
				Name:      "proxy_requests_total",
				Help:      "Total proxied MCP requests",
			},
			[]string{"service", "code"},
		),
		ProxyRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpwarden",
				Name:      "proxy_request_duration_seconds",
				Help:      "Proxied request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		SnapshotChecksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpwarden",
				Name:      "snapshot_checks_total",
				Help:      "Total scheduled snapshot checks by outcome",
			},
			[]string{"outcome"},
		),
		DivergencesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpwarden",
				Name:      "divergences_total",
				Help:      "Total capability divergences detected",
			},
		),
		RegistryReloadsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpwarden",
				Name:      "registry_reloads_total",
				Help:      "Total routing table reloads",
			},
		),
		RegisteredServices: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpwarden",
				Name:      "registered_services",
				Help:      "Number of registered services",
			},
		),
	}
}
