package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	httpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/inbound/http"
	"github.com/wardenlabs/mcp-warden/internal/domain/catalog"
	"github.com/wardenlabs/mcp-warden/internal/domain/routes"
)

// ErrInvalidInput marks admin input that fails validation: a bad service
// name or a check frequency below the configured floor. Wrapped errors
// carry the detail.
var ErrInvalidInput = errors.New("invalid service input")

// SnapshotSummary is the hash-and-status view of a snapshot returned where
// the full capability document would be noise.
type SnapshotSummary struct {
	ID             int64                  `json:"id"`
	SnapshotHash   string                 `json:"snapshot_hash"`
	ApprovedStatus catalog.ApprovalStatus `json:"approved_status"`
	CreatedAt      time.Time              `json:"created_at"`
}

func summarize(s *catalog.Snapshot) *SnapshotSummary {
	if s == nil {
		return nil
	}
	return &SnapshotSummary{
		ID:             s.ID,
		SnapshotHash:   s.SnapshotHash,
		ApprovedStatus: s.ApprovedStatus,
		CreatedAt:      s.CreatedAt,
	}
}

// DiffResult compares a service's latest approved snapshot against its
// latest snapshot. Diff is nil when they are the same row or when either
// side is missing.
type DiffResult struct {
	ServiceName      string           `json:"service_name"`
	ApprovedSnapshot *SnapshotSummary `json:"approved_snapshot"`
	LatestSnapshot   *SnapshotSummary `json:"latest_snapshot"`
	Diff             *catalog.Diff    `json:"diff"`
}

// ApproveResult reports the outcome of approving a service's latest
// snapshot.
type ApproveResult struct {
	ServiceName string                 `json:"service_name"`
	SnapshotID  int64                  `json:"snapshot_id"`
	NewStatus   catalog.ApprovalStatus `json:"new_status"`
	Enabled     bool                   `json:"enabled"`
}

// ClientConfig is the connection snippet an MCP client needs to reach a
// service through the proxy.
type ClientConfig struct {
	ServiceName  string                       `json:"service_name"`
	Config       map[string]map[string]string `json:"config"`
	ConfigString string                       `json:"config_string"`
}

// AdminService implements the admin operations over the service catalog.
// Every mutation reloads the routing table before returning, so a caller
// that created or approved a service can immediately route through it.
type AdminService struct {
	store    catalog.Store
	registry *routes.Registry
	snap     *Snapshotter
	logger   *slog.Logger
	metrics  *httpadapter.Metrics

	baseURL           string
	minCheckFrequency int
}

// NewAdminService wires the admin operations. minCheckFrequency is the
// floor for non-zero check frequencies; baseURL is the externally visible
// address of the proxy used in client-config snippets.
func NewAdminService(store catalog.Store, registry *routes.Registry, snap *Snapshotter, logger *slog.Logger, metrics *httpadapter.Metrics, baseURL string, minCheckFrequency int) *AdminService {
	return &AdminService{
		store:             store,
		registry:          registry,
		snap:              snap,
		logger:            logger,
		metrics:           metrics,
		baseURL:           strings.TrimRight(baseURL, "/"),
		minCheckFrequency: minCheckFrequency,
	}
}

func (a *AdminService) validateFrequency(freq int) error {
	if freq < 0 {
		return fmt.Errorf("%w: check frequency must be non-negative", ErrInvalidInput)
	}
	if freq > 0 && freq < a.minCheckFrequency {
		return fmt.Errorf("%w: check frequency must be 0 or >= %d minutes", ErrInvalidInput, a.minCheckFrequency)
	}
	return nil
}

// CreateService validates the input, snapshots the upstream, and registers
// the service with that snapshot as its user-approved baseline. A failed
// snapshot aborts the creation.
func (a *AdminService) CreateService(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int) (*catalog.Service, error) {
	if !catalog.ValidName(name) {
		return nil, fmt.Errorf("%w: name must match [A-Za-z0-9_-]+", ErrInvalidInput)
	}
	if err := a.validateFrequency(checkFrequencyMinutes); err != nil {
		return nil, err
	}

	a.logger.Info("creating service", "name", name, "upstream_url", upstreamURL)
	result, err := a.snap.Snapshot(ctx, upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot upstream: %w", err)
	}

	svc, err := a.store.CreateService(ctx, name, upstreamURL, enabled, checkFrequencyMinutes, result)
	if err != nil {
		return nil, err
	}

	a.audit(ctx, catalog.ActorUser, "service.create", map[string]any{
		"name": name, "upstream_url": upstreamURL, "hash": result.Hash,
	})
	a.ReloadRegistry(ctx)
	a.logger.Info("service created", "name", name, "hash", result.Hash)
	return svc, nil
}

// ListServices returns all services joined with their snapshot status.
func (a *AdminService) ListServices(ctx context.Context) ([]*catalog.ServiceStatus, error) {
	svcs, err := a.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*catalog.ServiceStatus, 0, len(svcs))
	for _, svc := range svcs {
		st, err := a.status(ctx, svc)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// GetService returns one service joined with its snapshot status.
func (a *AdminService) GetService(ctx context.Context, name string) (*catalog.ServiceStatus, error) {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return a.status(ctx, svc)
}

func (a *AdminService) status(ctx context.Context, svc *catalog.Service) (*catalog.ServiceStatus, error) {
	st := &catalog.ServiceStatus{Service: *svc}

	latest, err := a.store.LatestSnapshot(ctx, svc.ID)
	switch {
	case err == nil:
		st.LatestSnapshotStatus = latest.ApprovedStatus
		st.LatestSnapshotHash = latest.SnapshotHash
		created := latest.CreatedAt
		st.LatestSnapshotCreatedAt = &created
	case !errors.Is(err, catalog.ErrSnapshotNotFound):
		return nil, err
	}

	approved, err := a.store.LatestApprovedSnapshot(ctx, svc.ID)
	switch {
	case err == nil:
		st.LatestApprovedHash = approved.SnapshotHash
	case !errors.Is(err, catalog.ErrSnapshotNotFound):
		return nil, err
	}
	return st, nil
}

// UpdateService applies a partial update. A changed upstream URL forces a
// fresh snapshot of the new URL, stored unapproved, and disables the
// service; the operator must approve before traffic flows again.
func (a *AdminService) UpdateService(ctx context.Context, name string, patch catalog.ServicePatch) (*catalog.Service, error) {
	if patch.CheckFrequencyMinutes != nil {
		if err := a.validateFrequency(*patch.CheckFrequencyMinutes); err != nil {
			return nil, err
		}
	}

	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}

	var urlSnapshot *catalog.SnapshotResult
	if patch.UpstreamURL != nil && *patch.UpstreamURL != svc.UpstreamURL {
		a.logger.Info("upstream url changing, taking fresh snapshot",
			"name", name, "from", svc.UpstreamURL, "to", *patch.UpstreamURL)
		urlSnapshot, err = a.snap.Snapshot(ctx, *patch.UpstreamURL)
		if err != nil {
			return nil, fmt.Errorf("snapshot new upstream: %w", err)
		}
	}

	updated, err := a.store.UpdateService(ctx, svc.ID, patch, urlSnapshot)
	if err != nil {
		return nil, err
	}

	details := map[string]any{"name": name}
	if urlSnapshot != nil {
		details["upstream_url"] = updated.UpstreamURL
		details["hash"] = urlSnapshot.Hash
	}
	a.audit(ctx, catalog.ActorUser, "service.update", details)
	a.ReloadRegistry(ctx)
	return updated, nil
}

// DeleteService removes a service and its snapshot history.
func (a *AdminService) DeleteService(ctx context.Context, name string) error {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return err
	}
	if err := a.store.DeleteService(ctx, svc.ID); err != nil {
		return err
	}
	a.audit(ctx, catalog.ActorUser, "service.delete", map[string]any{"name": name})
	a.ReloadRegistry(ctx)
	a.logger.Info("service deleted", "name", name)
	return nil
}

// ListSnapshots returns up to limit snapshot summaries, newest first.
func (a *AdminService) ListSnapshots(ctx context.Context, name string, limit int) ([]*SnapshotSummary, error) {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	snaps, err := a.store.ListSnapshots(ctx, svc.ID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*SnapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, summarize(s))
	}
	return out, nil
}

// LatestSnapshot returns the full latest snapshot including its document.
func (a *AdminService) LatestSnapshot(ctx context.Context, name string) (*catalog.Snapshot, error) {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return a.store.LatestSnapshot(ctx, svc.ID)
}

// GetSnapshot returns one snapshot by id, scoped to the named service.
func (a *AdminService) GetSnapshot(ctx context.Context, name string, snapshotID int64) (*catalog.Snapshot, error) {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return a.store.GetSnapshot(ctx, svc.ID, snapshotID)
}

// Diff compares the latest approved snapshot against the latest snapshot.
func (a *AdminService) Diff(ctx context.Context, name string) (*DiffResult, error) {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}

	res := &DiffResult{ServiceName: name}

	approved, err := a.store.LatestApprovedSnapshot(ctx, svc.ID)
	if err != nil && !errors.Is(err, catalog.ErrSnapshotNotFound) {
		return nil, err
	}
	latest, err := a.store.LatestSnapshot(ctx, svc.ID)
	if err != nil && !errors.Is(err, catalog.ErrSnapshotNotFound) {
		return nil, err
	}

	res.ApprovedSnapshot = summarize(approved)
	res.LatestSnapshot = summarize(latest)
	if approved != nil && latest != nil && approved.ID != latest.ID {
		diff, err := catalog.ComputeDiff(approved.SnapshotJSON, latest.SnapshotJSON)
		if err != nil {
			return nil, fmt.Errorf("diff snapshots: %w", err)
		}
		res.Diff = diff
	}
	return res, nil
}

// Approve promotes the latest snapshot to user-approved and re-enables the
// service.
func (a *AdminService) Approve(ctx context.Context, name string) (*ApproveResult, error) {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	snap, err := a.store.ApproveLatest(ctx, svc.ID)
	if err != nil {
		return nil, err
	}

	a.audit(ctx, catalog.ActorUser, "snapshot.approve", map[string]any{
		"name": name, "snapshot_id": snap.ID, "hash": snap.SnapshotHash,
	})
	a.ReloadRegistry(ctx)
	a.logger.Info("snapshot approved, service re-enabled", "name", name, "snapshot_id", snap.ID)

	return &ApproveResult{
		ServiceName: name,
		SnapshotID:  snap.ID,
		NewStatus:   snap.ApprovedStatus,
		Enabled:     true,
	}, nil
}

// ClientConfig builds the connection snippet for an MCP client.
func (a *AdminService) ClientConfig(ctx context.Context, name string) (*ClientConfig, error) {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	mcpURL := fmt.Sprintf("%s/%s/mcp", a.baseURL, svc.Name)
	return &ClientConfig{
		ServiceName:  svc.Name,
		Config:       map[string]map[string]string{svc.Name: {"url": mcpURL}},
		ConfigString: fmt.Sprintf("%q: {\n  \"url\": %q\n}", svc.Name, mcpURL),
	}, nil
}

// Audit returns up to limit audit entries, newest first.
func (a *AdminService) Audit(ctx context.Context, limit int) ([]*catalog.AuditEntry, error) {
	return a.store.ListAudit(ctx, limit)
}

// ReloadRegistry rebuilds the routing table from the store. Failures are
// logged, not returned: a stale table is preferable to failing the admin
// operation that already committed.
func (a *AdminService) ReloadRegistry(ctx context.Context) {
	reloadRegistry(ctx, a.store, a.registry, a.metrics, a.logger)
}

// SeedFromConfig registers configured services that do not exist yet.
// Existing services are never overwritten; a service whose upstream cannot
// be snapshotted is skipped with a logged error.
func (a *AdminService) SeedFromConfig(ctx context.Context, seeds []SeedService) {
	for _, seed := range seeds {
		if _, err := a.store.GetServiceByName(ctx, seed.Name); err == nil {
			a.logger.Info("service already exists, skipping seed", "name", seed.Name)
			continue
		} else if !errors.Is(err, catalog.ErrServiceNotFound) {
			a.logger.Error("seed lookup failed", "name", seed.Name, "error", err)
			continue
		}
		if _, err := a.CreateService(ctx, seed.Name, seed.UpstreamURL, seed.Enabled, seed.CheckFrequencyMinutes); err != nil {
			a.logger.Error("failed to seed service", "name", seed.Name, "error", err)
		}
	}
}

// SeedService is one services[] entry from the configuration file.
type SeedService struct {
	Name                  string
	UpstreamURL           string
	Enabled               bool
	CheckFrequencyMinutes int
}

func (a *AdminService) audit(ctx context.Context, actor catalog.Actor, action string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	if err := a.store.AppendAudit(ctx, actor, action, string(payload)); err != nil {
		a.logger.Error("audit append failed", "action", action, "error", err)
	}
}
