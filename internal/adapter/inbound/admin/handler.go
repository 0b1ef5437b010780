// Package admin provides the JSON API handlers for managing services.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wardenlabs/mcp-warden/internal/adapter/outbound/mcp"
	"github.com/wardenlabs/mcp-warden/internal/domain/catalog"
	"github.com/wardenlabs/mcp-warden/internal/service"
	wmcp "github.com/wardenlabs/mcp-warden/pkg/mcp"
)

// Handler serves the admin API under /api/admin.
type Handler struct {
	admin    *service.AdminService
	logger   *slog.Logger
	password string
}

// NewHandler builds the admin handler. password protects every route via
// HTTP basic auth.
func NewHandler(admin *service.AdminService, logger *slog.Logger, password string) *Handler {
	return &Handler{admin: admin, logger: logger, password: password}
}

// Routes returns the admin API routes with auth and request-id middleware
// applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/admin/services", h.handleCreateService)
	mux.HandleFunc("GET /api/admin/services", h.handleListServices)
	mux.HandleFunc("GET /api/admin/services/{name}", h.handleGetService)
	mux.HandleFunc("PATCH /api/admin/services/{name}", h.handleUpdateService)
	mux.HandleFunc("DELETE /api/admin/services/{name}", h.handleDeleteService)
	mux.HandleFunc("GET /api/admin/services/{name}/snapshots", h.handleListSnapshots)
	mux.HandleFunc("GET /api/admin/services/{name}/snapshots/latest", h.handleLatestSnapshot)
	mux.HandleFunc("GET /api/admin/services/{name}/snapshots/{id}", h.handleGetSnapshot)
	mux.HandleFunc("GET /api/admin/services/{name}/diff", h.handleDiff)
	mux.HandleFunc("POST /api/admin/services/{name}/approve", h.handleApprove)
	mux.HandleFunc("GET /api/admin/services/{name}/client-config", h.handleClientConfig)
	mux.HandleFunc("GET /api/admin/audit", h.handleAudit)

	return requestIDMiddleware(h.basicAuthMiddleware(mux))
}

type createServiceRequest struct {
	Name                  string `json:"name"`
	UpstreamURL           string `json:"upstream_url"`
	Enabled               *bool  `json:"enabled"`
	CheckFrequencyMinutes int    `json:"check_frequency_minutes"`
}

func (h *Handler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.UpstreamURL == "" {
		h.respondError(w, http.StatusBadRequest, "name and upstream_url are required")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	svc, err := h.admin.CreateService(r.Context(), req.Name, req.UpstreamURL, enabled, req.CheckFrequencyMinutes)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, svc)
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := h.admin.ListServices(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svcs)
}

func (h *Handler) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.admin.GetService(r.Context(), r.PathValue("name"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svc)
}

type updateServiceRequest struct {
	UpstreamURL           *string `json:"upstream_url"`
	Enabled               *bool   `json:"enabled"`
	CheckFrequencyMinutes *int    `json:"check_frequency_minutes"`
}

func (h *Handler) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var req updateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc, err := h.admin.UpdateService(r.Context(), r.PathValue("name"), catalog.ServicePatch{
		UpstreamURL:           req.UpstreamURL,
		Enabled:               req.Enabled,
		CheckFrequencyMinutes: req.CheckFrequencyMinutes,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svc)
}

func (h *Handler) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.admin.DeleteService(r.Context(), name); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	snaps, err := h.admin.ListSnapshots(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snaps)
}

func (h *Handler) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.admin.LatestSnapshot(r.Context(), r.PathValue("name"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "snapshot id must be an integer")
		return
	}
	snap, err := h.admin.GetSnapshot(r.Context(), r.PathValue("name"), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := h.admin.Diff(r.Context(), r.PathValue("name"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, diff)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	res, err := h.admin.Approve(r.Context(), r.PathValue("name"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.admin.ClientConfig(r.Context(), r.PathValue("name"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.admin.Audit(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, entries)
}

// respondServiceError maps domain errors to HTTP status codes: invalid
// input 400, missing resources 404, name conflicts 409, unreachable or
// misbehaving upstreams 502.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var upErr *mcp.UpstreamError
	var protoErr *wmcp.ProtocolError
	var rpcErr *wmcp.RPCError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrServiceNotFound), errors.Is(err, catalog.ErrSnapshotNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrDuplicateServiceName):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &upErr), errors.As(err, &protoErr), errors.As(err, &rpcErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("admin request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
