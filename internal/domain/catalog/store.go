package catalog

import (
	"context"
	"errors"
)

var (
	// ErrServiceNotFound is returned when a service id or name does not exist.
	ErrServiceNotFound = errors.New("service not found")
	// ErrDuplicateServiceName is returned when creating a service whose name
	// is already registered.
	ErrDuplicateServiceName = errors.New("service name already exists")
	// ErrSnapshotNotFound is returned when a snapshot id does not exist or
	// a service has no snapshots yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Store is the persistence port for services, snapshots, and the audit log.
// Implementations must make every mutating operation atomic.
type Store interface {
	// CreateService registers a new service together with its initial
	// user-approved snapshot in one transaction, returning the service with
	// ID and timestamps populated. Returns ErrDuplicateServiceName on a
	// name clash. initial may be nil only in tests.
	CreateService(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int, initial *SnapshotResult) (*Service, error)

	// GetService fetches a service by id.
	GetService(ctx context.Context, id int64) (*Service, error)

	// GetServiceByName fetches a service by name.
	GetServiceByName(ctx context.Context, name string) (*Service, error)

	// ListServices returns all services ordered by name.
	ListServices(ctx context.Context) ([]*Service, error)

	// UpdateService applies a partial update. When the upstream URL
	// changes, urlSnapshot (a fresh capture of the new URL) is persisted
	// as Unapproved and the service is disabled, all in one transaction.
	// A URL change without urlSnapshot is rejected.
	UpdateService(ctx context.Context, id int64, patch ServicePatch, urlSnapshot *SnapshotResult) (*Service, error)

	// DeleteService removes a service and cascades to its snapshots.
	DeleteService(ctx context.Context, id int64) error

	// AppendSnapshot records a new snapshot row for a service.
	AppendSnapshot(ctx context.Context, serviceID int64, canonicalJSON, hash string, status ApprovalStatus) (*Snapshot, error)

	// RecordCheck persists the outcome of a scheduled check: the new
	// snapshot with its status and, when disable is set, the service's
	// enabled flag cleared, in one transaction.
	RecordCheck(ctx context.Context, serviceID int64, result *SnapshotResult, status ApprovalStatus, disable bool) (*Snapshot, error)

	// LatestSnapshot returns the newest snapshot for a service, or
	// ErrSnapshotNotFound when none exists. Ties on created_at break on
	// the higher id.
	LatestSnapshot(ctx context.Context, serviceID int64) (*Snapshot, error)

	// LatestApprovedSnapshot returns the newest snapshot whose status is
	// user_approved or system_approved, or ErrSnapshotNotFound.
	LatestApprovedSnapshot(ctx context.Context, serviceID int64) (*Snapshot, error)

	// GetSnapshot fetches a snapshot by id, scoped to a service.
	GetSnapshot(ctx context.Context, serviceID, snapshotID int64) (*Snapshot, error)

	// ListSnapshots returns up to limit snapshots for a service, newest
	// first. limit <= 0 means no limit.
	ListSnapshots(ctx context.Context, serviceID int64, limit int) ([]*Snapshot, error)

	// ApproveLatest promotes the latest snapshot to user_approved and
	// enables the service in one transaction. Idempotent when the latest
	// snapshot is already user_approved. Returns the promoted snapshot.
	ApproveLatest(ctx context.Context, serviceID int64) (*Snapshot, error)

	// AppendAudit records an audit log entry.
	AppendAudit(ctx context.Context, actor Actor, action, details string) error

	// ListAudit returns up to limit audit entries, newest first.
	// limit <= 0 means no limit.
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	// Close releases the underlying database handle.
	Close() error
}
