// Package catalog defines the persistent domain model of MCP Warden: the
// registered services and the history of capability snapshots taken from
// their upstreams.
package catalog

import (
	"regexp"
	"time"
)

// ApprovalStatus is the trust state of a snapshot.
type ApprovalStatus string

const (
	// UserApproved marks a snapshot explicitly accepted by an operator,
	// either at service creation or through the approve action.
	UserApproved ApprovalStatus = "user_approved"
	// SystemApproved marks a scheduler-taken snapshot whose hash matched
	// the latest approved snapshot at check time.
	SystemApproved ApprovalStatus = "system_approved"
	// Unapproved marks a diverged or baseline-less snapshot. A service
	// whose latest snapshot is unapproved is disabled until an operator
	// approves it.
	Unapproved ApprovalStatus = "unapproved"
)

// Approved reports whether the status counts as an approval baseline.
func (s ApprovalStatus) Approved() bool {
	return s == UserApproved || s == SystemApproved
}

// Valid reports whether s is one of the three known statuses.
func (s ApprovalStatus) Valid() bool {
	return s == UserApproved || s == SystemApproved || s == Unapproved
}

// nameRE constrains service names to URL- and filesystem-safe characters.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is a legal service name.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}

// Service is a registered upstream MCP server.
type Service struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	UpstreamURL           string    `json:"upstream_url"`
	Enabled               bool      `json:"enabled"`
	CheckFrequencyMinutes int       `json:"check_frequency_minutes"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Snapshot is one observation of a service's capability surface.
// Rows are immutable after insertion except for promotion of
// ApprovedStatus to UserApproved by an operator.
type Snapshot struct {
	ID             int64          `json:"id"`
	ServiceID      int64          `json:"service_id"`
	SnapshotJSON   string         `json:"snapshot_json"`
	SnapshotHash   string         `json:"snapshot_hash"`
	ApprovedStatus ApprovalStatus `json:"approved_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SnapshotResult is the outcome of walking an upstream's capability surface:
// the canonical fingerprint document, its hash, and the raw lists it was
// built from.
type SnapshotResult struct {
	CanonicalJSON     string
	Hash              string
	Tools             []map[string]any
	Resources         []map[string]any
	ResourceTemplates []map[string]any
	Prompts           []map[string]any
}

// ServicePatch is a partial update to a service. Nil fields are unchanged.
type ServicePatch struct {
	UpstreamURL           *string
	Enabled               *bool
	CheckFrequencyMinutes *int
}

// ServiceStatus is a service joined with its latest snapshot and latest
// approved snapshot, as surfaced by the admin API.
type ServiceStatus struct {
	Service
	LatestSnapshotStatus    ApprovalStatus `json:"latest_snapshot_status,omitempty"`
	LatestSnapshotHash      string         `json:"latest_snapshot_hash,omitempty"`
	LatestSnapshotCreatedAt *time.Time     `json:"latest_snapshot_created_at,omitempty"`
	LatestApprovedHash      string         `json:"latest_approved_hash,omitempty"`
}

// Actor identifies who performed an audited action.
type Actor string

const (
	// ActorSystem marks actions taken by the check scheduler.
	ActorSystem Actor = "system"
	// ActorUser marks actions taken through the admin API.
	ActorUser Actor = "user"
)

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     Actor     `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
}
