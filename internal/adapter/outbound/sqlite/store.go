// Package sqlite persists the service catalog, snapshot history, and audit
// log in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wardenlabs/mcp-warden/internal/domain/catalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS services (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    name                    TEXT    NOT NULL UNIQUE,
    upstream_url            TEXT    NOT NULL,
    enabled                 INTEGER NOT NULL DEFAULT 0,
    check_frequency_minutes INTEGER NOT NULL DEFAULT 60,
    created_at              TEXT    NOT NULL,
    updated_at              TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    service_id      INTEGER NOT NULL REFERENCES services(id) ON DELETE CASCADE,
    snapshot_json   TEXT    NOT NULL,
    snapshot_hash   TEXT    NOT NULL,
    approved_status TEXT    NOT NULL CHECK (approved_status IN ('user_approved','system_approved','unapproved')),
    created_at      TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_service_created
    ON snapshots (service_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS audit_log (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    actor     TEXT NOT NULL,
    action    TEXT NOT NULL,
    details   TEXT NOT NULL DEFAULT ''
);
`

// timeFormat stores timestamps as RFC 3339 UTC with a fixed-width
// nanosecond fraction, which sorts lexicographically. A trimmed fraction
// would not: "...05Z" compares greater than "...05.5Z".
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements catalog.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode keeps readers unblocked during writes; foreign keys are
// enforced so snapshot rows cascade with their service.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY churn under concurrent admin and
	// scheduler writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func now() string { return time.Now().UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateService inserts the service and its initial user-approved snapshot
// in one transaction, so a registered service always has an approval
// baseline.
func (s *Store) CreateService(ctx context.Context, name, upstreamURL string, enabled bool, checkFrequencyMinutes int, initial *catalog.SnapshotResult) (*catalog.Service, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create service %q: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO services (name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, upstreamURL, boolToInt(enabled), checkFrequencyMinutes, ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create service %q: %w", name, catalog.ErrDuplicateServiceName)
		}
		return nil, fmt.Errorf("create service %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create service %q: %w", name, err)
	}

	if initial != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (service_id, snapshot_json, snapshot_hash, approved_status, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			id, initial.CanonicalJSON, initial.Hash, catalog.UserApproved, ts); err != nil {
			return nil, fmt.Errorf("create service %q: initial snapshot: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create service %q: %w", name, err)
	}
	return s.GetService(ctx, id)
}

func (s *Store) GetService(ctx context.Context, id int64) (*catalog.Service, error) {
	return s.scanService(s.db.QueryRowContext(ctx,
		`SELECT id, name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at
		 FROM services WHERE id = ?`, id))
}

func (s *Store) GetServiceByName(ctx context.Context, name string) (*catalog.Service, error) {
	return s.scanService(s.db.QueryRowContext(ctx,
		`SELECT id, name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at
		 FROM services WHERE name = ?`, name))
}

func (s *Store) ListServices(ctx context.Context) ([]*catalog.Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at
		 FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*catalog.Service
	for rows.Next() {
		svc, err := scanServiceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// UpdateService applies a partial update. A URL change persists urlSnapshot
// as unapproved and disables the service in the same transaction, so the
// gateway can never route to a new upstream under an old approval.
func (s *Store) UpdateService(ctx context.Context, id int64, patch catalog.ServicePatch, urlSnapshot *catalog.SnapshotResult) (*catalog.Service, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.scanService(tx.QueryRowContext(ctx,
		`SELECT id, name, upstream_url, enabled, check_frequency_minutes, created_at, updated_at
		 FROM services WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	urlChanged := patch.UpstreamURL != nil && *patch.UpstreamURL != cur.UpstreamURL
	if urlChanged && urlSnapshot == nil {
		return nil, fmt.Errorf("update service %d: url change requires a fresh snapshot", id)
	}

	upstreamURL := cur.UpstreamURL
	if patch.UpstreamURL != nil {
		upstreamURL = *patch.UpstreamURL
	}
	enabled := cur.Enabled
	if patch.Enabled != nil {
		enabled = *patch.Enabled
	}
	if urlChanged {
		enabled = false
	}
	freq := cur.CheckFrequencyMinutes
	if patch.CheckFrequencyMinutes != nil {
		freq = *patch.CheckFrequencyMinutes
	}

	ts := now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE services SET upstream_url = ?, enabled = ?, check_frequency_minutes = ?, updated_at = ?
		 WHERE id = ?`,
		upstreamURL, boolToInt(enabled), freq, ts, id); err != nil {
		return nil, fmt.Errorf("update service %d: %w", id, err)
	}

	if urlChanged {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (service_id, snapshot_json, snapshot_hash, approved_status, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			id, urlSnapshot.CanonicalJSON, urlSnapshot.Hash, catalog.Unapproved, ts); err != nil {
			return nil, fmt.Errorf("record url change for service %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update service %d: %w", id, err)
	}
	return s.GetService(ctx, id)
}

func (s *Store) DeleteService(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete service %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete service %d: %w", id, err)
	}
	if n == 0 {
		return catalog.ErrServiceNotFound
	}
	return nil
}

func (s *Store) AppendSnapshot(ctx context.Context, serviceID int64, canonicalJSON, hash string, status catalog.ApprovalStatus) (*catalog.Snapshot, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("append snapshot: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (service_id, snapshot_json, snapshot_hash, approved_status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		serviceID, canonicalJSON, hash, status, now())
	if err != nil {
		return nil, fmt.Errorf("append snapshot for service %d: %w", serviceID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append snapshot for service %d: %w", serviceID, err)
	}
	return s.snapshotByID(ctx, id)
}

// RecordCheck stores a scheduled check's snapshot and optionally disables
// the service in the same transaction.
func (s *Store) RecordCheck(ctx context.Context, serviceID int64, result *catalog.SnapshotResult, status catalog.ApprovalStatus, disable bool) (*catalog.Snapshot, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("record check: invalid status %q", status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record check for service %d: %w", serviceID, err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (service_id, snapshot_json, snapshot_hash, approved_status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		serviceID, result.CanonicalJSON, result.Hash, status, ts)
	if err != nil {
		return nil, fmt.Errorf("record check for service %d: %w", serviceID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record check for service %d: %w", serviceID, err)
	}

	if disable {
		if _, err := tx.ExecContext(ctx,
			`UPDATE services SET enabled = 0, updated_at = ? WHERE id = ?`, ts, serviceID); err != nil {
			return nil, fmt.Errorf("disable service %d: %w", serviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record check for service %d: %w", serviceID, err)
	}
	return s.snapshotByID(ctx, id)
}

func (s *Store) LatestSnapshot(ctx context.Context, serviceID int64) (*catalog.Snapshot, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT id, service_id, snapshot_json, snapshot_hash, approved_status, created_at
		 FROM snapshots WHERE service_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, serviceID))
}

func (s *Store) LatestApprovedSnapshot(ctx context.Context, serviceID int64) (*catalog.Snapshot, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT id, service_id, snapshot_json, snapshot_hash, approved_status, created_at
		 FROM snapshots WHERE service_id = ? AND approved_status IN ('user_approved','system_approved')
		 ORDER BY created_at DESC, id DESC LIMIT 1`, serviceID))
}

func (s *Store) GetSnapshot(ctx context.Context, serviceID, snapshotID int64) (*catalog.Snapshot, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT id, service_id, snapshot_json, snapshot_hash, approved_status, created_at
		 FROM snapshots WHERE id = ? AND service_id = ?`, snapshotID, serviceID))
}

func (s *Store) ListSnapshots(ctx context.Context, serviceID int64, limit int) ([]*catalog.Snapshot, error) {
	q := `SELECT id, service_id, snapshot_json, snapshot_hash, approved_status, created_at
	      FROM snapshots WHERE service_id = ?
	      ORDER BY created_at DESC, id DESC`
	args := []any{serviceID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for service %d: %w", serviceID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*catalog.Snapshot
	for rows.Next() {
		snap, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ApproveLatest promotes the newest snapshot to user_approved and enables
// the service in one transaction. Approving an already user-approved latest
// snapshot is a no-op beyond re-enabling.
func (s *Store) ApproveLatest(ctx context.Context, serviceID int64) (*catalog.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("approve service %d: %w", serviceID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM services WHERE id = ?`, serviceID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("approve service %d: %w", serviceID, err)
	}
	if exists == 0 {
		return nil, catalog.ErrServiceNotFound
	}

	snap, err := s.scanSnapshot(tx.QueryRowContext(ctx,
		`SELECT id, service_id, snapshot_json, snapshot_hash, approved_status, created_at
		 FROM snapshots WHERE service_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, serviceID))
	if err != nil {
		return nil, err
	}

	if snap.ApprovedStatus != catalog.UserApproved {
		if _, err := tx.ExecContext(ctx,
			`UPDATE snapshots SET approved_status = ? WHERE id = ?`,
			catalog.UserApproved, snap.ID); err != nil {
			return nil, fmt.Errorf("approve snapshot %d: %w", snap.ID, err)
		}
		snap.ApprovedStatus = catalog.UserApproved
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE services SET enabled = 1, updated_at = ? WHERE id = ?`,
		now(), serviceID); err != nil {
		return nil, fmt.Errorf("enable service %d: %w", serviceID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("approve service %d: %w", serviceID, err)
	}
	return snap, nil
}

func (s *Store) AppendAudit(ctx context.Context, actor catalog.Actor, action, details string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, actor, action, details) VALUES (?, ?, ?, ?)`,
		now(), actor, action, details); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]*catalog.AuditEntry, error) {
	q := `SELECT id, timestamp, actor, action, details FROM audit_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*catalog.AuditEntry
	for rows.Next() {
		var e catalog.AuditEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.Details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) snapshotByID(ctx context.Context, id int64) (*catalog.Snapshot, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT id, service_id, snapshot_json, snapshot_hash, approved_status, created_at
		 FROM snapshots WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanService(row rowScanner) (*catalog.Service, error) {
	return scanServiceRow(row)
}

func scanServiceRow(row rowScanner) (*catalog.Service, error) {
	var svc catalog.Service
	var enabled int
	var created, updated string
	err := row.Scan(&svc.ID, &svc.Name, &svc.UpstreamURL, &enabled, &svc.CheckFrequencyMinutes, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan service: %w", err)
	}
	svc.Enabled = enabled != 0
	svc.CreatedAt = parseTime(created)
	svc.UpdatedAt = parseTime(updated)
	return &svc, nil
}

func (s *Store) scanSnapshot(row rowScanner) (*catalog.Snapshot, error) {
	return scanSnapshotRow(row)
}

func scanSnapshotRow(row rowScanner) (*catalog.Snapshot, error) {
	var snap catalog.Snapshot
	var created string
	err := row.Scan(&snap.ID, &snap.ServiceID, &snap.SnapshotJSON, &snap.SnapshotHash, &snap.ApprovedStatus, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.CreatedAt = parseTime(created)
	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ catalog.Store = (*Store)(nil)
