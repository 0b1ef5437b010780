package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	httpadapter "github.com/wardenlabs/mcp-warden/internal/adapter/inbound/http"
	"github.com/wardenlabs/mcp-warden/internal/domain/catalog"
)

// CheckScheduler periodically re-snapshots enabled services and compares
// the result against their latest approved baseline. A diverged service is
// disabled and its snapshot stored unapproved; an unchanged one gains a
// system-approved snapshot. Failures to reach an upstream are logged and
// the cycle skipped, never punished with a disable.
type CheckScheduler struct {
	store   catalog.Store
	snap    *Snapshotter
	logger  *slog.Logger
	metrics *httpadapter.Metrics

	interval time.Duration
	changed  chan<- struct{}

	// nowFn is replaceable in tests.
	nowFn func() time.Time
}

// NewCheckScheduler builds the scheduler. interval is the tick period;
// changed receives a signal whenever a check flipped a service's enabled
// flag, so the registry poller can reload immediately.
func NewCheckScheduler(store catalog.Store, snap *Snapshotter, logger *slog.Logger, metrics *httpadapter.Metrics, interval time.Duration, changed chan<- struct{}) *CheckScheduler {
	return &CheckScheduler{
		store:    store,
		snap:     snap,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
		changed:  changed,
		nowFn:    time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (c *CheckScheduler) Run(ctx context.Context) {
	c.logger.Info("check scheduler started", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("check scheduler stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: every enabled service with a non-zero
// check frequency whose last snapshot is old enough gets checked.
func (c *CheckScheduler) Tick(ctx context.Context) {
	svcs, err := c.store.ListServices(ctx)
	if err != nil {
		c.logger.Error("check scheduler: list services", "error", err)
		return
	}

	routesChanged := false
	for _, svc := range svcs {
		if !svc.Enabled || svc.CheckFrequencyMinutes == 0 {
			continue
		}
		due, err := c.isDue(ctx, svc)
		if err != nil {
			c.logger.Error("check scheduler: due calculation", "name", svc.Name, "error", err)
			continue
		}
		if !due {
			continue
		}
		if c.checkService(ctx, svc) {
			routesChanged = true
		}
	}

	if routesChanged {
		c.signalChanged()
	}
}

// isDue reports whether enough time has passed since the service's last
// snapshot. A service with no snapshot at all is due immediately.
func (c *CheckScheduler) isDue(ctx context.Context, svc *catalog.Service) (bool, error) {
	last, err := c.store.LatestSnapshot(ctx, svc.ID)
	if err != nil {
		if errors.Is(err, catalog.ErrSnapshotNotFound) {
			return true, nil
		}
		return false, err
	}
	interval := time.Duration(svc.CheckFrequencyMinutes) * time.Minute
	return c.nowFn().Sub(last.CreatedAt) >= interval, nil
}

// checkService snapshots one service and records the verdict. Returns true
// when the service's enabled flag changed.
func (c *CheckScheduler) checkService(ctx context.Context, svc *catalog.Service) bool {
	c.logger.Info("checking service", "name", svc.Name)

	result, err := c.snap.Snapshot(ctx, svc.UpstreamURL)
	if err != nil {
		// Unreachable upstreams are skipped, not disabled; transient
		// network trouble is not a capability change.
		c.logger.Error("check failed, skipping cycle", "name", svc.Name, "error", err)
		c.observe(httpadapter.CheckOutcomeError)
		return false
	}

	approved, err := c.store.LatestApprovedSnapshot(ctx, svc.ID)
	switch {
	case errors.Is(err, catalog.ErrSnapshotNotFound):
		c.logger.Warn("no approved baseline, disabling", "name", svc.Name)
		if !c.record(ctx, svc, result, catalog.Unapproved, true, "snapshot.no_baseline") {
			return false
		}
		c.observe(httpadapter.CheckOutcomeBaseline)
		return true

	case err != nil:
		c.logger.Error("check failed, skipping cycle", "name", svc.Name, "error", err)
		c.observe(httpadapter.CheckOutcomeError)
		return false

	case result.Hash == approved.SnapshotHash:
		c.logger.Info("service unchanged", "name", svc.Name, "hash", result.Hash)
		c.record(ctx, svc, result, catalog.SystemApproved, false, "")
		c.observe(httpadapter.CheckOutcomeUnchanged)
		return false

	default:
		c.logger.Warn("capability divergence, disabling",
			"name", svc.Name, "approved_hash", approved.SnapshotHash, "new_hash", result.Hash)
		if !c.record(ctx, svc, result, catalog.Unapproved, true, "snapshot.diverged") {
			return false
		}
		c.observe(httpadapter.CheckOutcomeDiverged)
		if c.metrics != nil {
			c.metrics.DivergencesTotal.Inc()
		}
		return true
	}
}

func (c *CheckScheduler) record(ctx context.Context, svc *catalog.Service, result *catalog.SnapshotResult, status catalog.ApprovalStatus, disable bool, auditAction string) bool {
	snap, err := c.store.RecordCheck(ctx, svc.ID, result, status, disable)
	if err != nil {
		c.logger.Error("check scheduler: record check", "name", svc.Name, "error", err)
		c.observe(httpadapter.CheckOutcomeError)
		return false
	}
	if auditAction != "" {
		details, _ := json.Marshal(map[string]any{
			"name": svc.Name, "snapshot_id": snap.ID, "hash": snap.SnapshotHash,
		})
		if err := c.store.AppendAudit(ctx, catalog.ActorSystem, auditAction, string(details)); err != nil {
			c.logger.Error("audit append failed", "action", auditAction, "error", err)
		}
	}
	return true
}

// signalChanged nudges the registry poller without blocking; a full
// channel already carries a pending reload.
func (c *CheckScheduler) signalChanged() {
	if c.changed == nil {
		return
	}
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *CheckScheduler) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.SnapshotChecksTotal.WithLabelValues(outcome).Inc()
	}
}
