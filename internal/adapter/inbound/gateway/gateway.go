// Package gateway is the proxy data plane: it forwards MCP traffic for
// enabled services to their upstreams without touching the payload.
package gateway

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	httpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/inbound/http"
	"github.com/wardenlabs/mcp-warden/internal/domain/routes"
)

// excludedHeaders are hop-by-hop or recomputed headers that must not cross
// the proxy in either direction.
var excludedHeaders = map[string]struct{}{
	"Host":              {},
	"Content-Length":    {},
	"Transfer-Encoding": {},
	"Connection":        {},
	"Keep-Alive":        {},
	"Upgrade":           {},
}

// Handler forwards /{service}/mcp traffic. The registry is the only
// trust decision: unknown services 404, disabled services 403, everything
// else passes through verbatim.
type Handler struct {
	registry *routes.Registry
	client   *http.Client
	logger   *slog.Logger
	metrics  *httpadapter.Metrics
}

// NewHandler builds the gateway. The forwarding client has no overall
// timeout: SSE responses stay open as long as the upstream keeps them open.
func NewHandler(registry *routes.Registry, logger *slog.Logger, metrics *httpadapter.Metrics) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// Routes returns the gateway routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{service}/mcp", h.handleProxy)
	mux.HandleFunc("GET /{service}/mcp", h.handleProxy)
	mux.HandleFunc("DELETE /{service}/mcp", h.handleProxy)
	return mux
}

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")
	start := time.Now()

	route, ok := h.registry.Lookup(name)
	if !ok {
		h.logger.Warn("request to unknown service", "service", name)
		h.respondError(w, name, http.StatusNotFound, "service not found")
		return
	}
	if !route.Enabled {
		h.logger.Warn("request to disabled service", "service", name)
		h.respondError(w, name, http.StatusForbidden, "service is currently disabled pending review")
		return
	}

	upReq, err := http.NewRequestWithContext(r.Context(), r.Method, route.UpstreamURL, r.Body)
	if err != nil {
		h.respondError(w, name, http.StatusInternalServerError, "internal error")
		return
	}
	copyHeaders(upReq.Header, r.Header)

	resp, err := h.client.Do(upReq)
	if err != nil {
		h.logger.Error("upstream request failed", "service", name, "error", err)
		h.respondError(w, name, http.StatusBadGateway, "upstream error")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	h.stream(w, resp.Body)

	h.observe(name, resp.StatusCode, start)
}

// stream copies the upstream body to the client, flushing after every read
// so SSE events reach the client as they arrive.
func (h *Handler) stream(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, service string, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
	h.observe(service, status, time.Time{})
}

func (h *Handler) observe(service string, status int, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.ProxyRequestsTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
	if !start.IsZero() {
		h.metrics.ProxyRequestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, skip := excludedHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
