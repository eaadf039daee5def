package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRunNotFound is returned when a sync run id is unknown.
	ErrRunNotFound = errors.New("sync run not found")

	// ErrRunNotRunning is returned when completing or failing a run that
	// already reached a terminal status.
	ErrRunNotRunning = errors.New("sync run is not running")
)

// SyncType is the kind of sync run as persisted in sync_runs.
type SyncType string

const (
	SyncFull  SyncType = "airtable_full"
	SyncDelta SyncType = "airtable_delta"
)

// Short returns the CLI name of the sync type ("full" or "delta").
func (t SyncType) Short() string {
	switch t {
	case SyncFull:
		return "full"
	case SyncDelta:
		return "delta"
	}
	return string(t)
}

// RunStatus is the state of a sync run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Counts are the reconciliation counters of one sync run.
type Counts struct {
	// Total is the number of records received from the source
	Total int `json:"total"`

	// Created is the number of record ids not previously persisted
	Created int `json:"created"`

	// Updated is the number of persisted records whose content changed
	Updated int `json:"updated"`

	// Deleted is the number of persisted records no longer present at the
	// source (full sync only)
	Deleted int `json:"deleted"`
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Total:   c.Total + o.Total,
		Created: c.Created + o.Created,
		Updated: c.Updated + o.Updated,
		Deleted: c.Deleted + o.Deleted,
	}
}

// SyncRun is one row of the sync audit log.
type SyncRun struct {
	ID          string     `json:"id"`
	Type        SyncType   `json:"sync_type"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Counts      Counts     `json:"counts"`
	Error       *string    `json:"error,omitempty"`
}

// NewRunID returns a fresh sync run id.
func NewRunID() string {
	return uuid.NewString()
}

// StartSyncRecord creates a running sync record and returns it.
func (db *DB) StartSyncRecord(ctx context.Context, typ SyncType) (*SyncRun, error) {
	run := &SyncRun{
		ID:        NewRunID(),
		Type:      typ,
		Status:    StatusRunning,
		StartedAt: db.now().UTC(),
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_runs (id, sync_type, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Type), string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start sync record: %w", err)
	}
	return run, nil
}

// CompleteSyncRecord transitions a running sync to succeeded.
func (db *DB) CompleteSyncRecord(ctx context.Context, id string, counts Counts) error {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE sync_runs SET
		status = ?,
		completed_at = ?,
		records_processed = ?,
		records_created = ?,
		records_updated = ?,
		records_deleted = ?
	WHERE id = ? AND status = ?
	`,
		string(StatusSucceeded), formatTime(db.now()),
		counts.Total, counts.Created, counts.Updated, counts.Deleted,
		id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to complete sync record %s: %w", id, err)
	}
	return db.checkTransition(ctx, id, res)
}

// FailSyncRecord transitions a running sync to failed with an error message.
func (db *DB) FailSyncRecord(ctx context.Context, id string, message string) error {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE sync_runs SET status = ?, completed_at = ?, error = ?
	WHERE id = ? AND status = ?
	`,
		string(StatusFailed), formatTime(db.now()), message,
		id, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to fail sync record %s: %w", id, err)
	}
	return db.checkTransition(ctx, id, res)
}

// checkTransition maps a zero-row update to ErrRunNotFound or ErrRunNotRunning.
func (db *DB) checkTransition(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = db.conn.QueryRowContext(ctx, `SELECT status FROM sync_runs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read sync record %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s is %s", ErrRunNotRunning, id, status)
}

// GetSyncRun returns one sync run by id.
func (db *DB) GetSyncRun(ctx context.Context, id string) (*SyncRun, error) {
	row := db.conn.QueryRowContext(ctx, selectRunSQL+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// GetLastSuccessfulSync returns the completion time of the most recent
// succeeded run of the type, or nil when none ever succeeded.
func (db *DB) GetLastSuccessfulSync(ctx context.Context, typ SyncType) (*time.Time, error) {
	var completed sql.NullString
	err := db.conn.QueryRowContext(ctx, `
	SELECT completed_at FROM sync_runs
	WHERE sync_type = ? AND status = ?
	ORDER BY completed_at DESC
	LIMIT 1
	`, string(typ), string(StatusSucceeded)).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last successful sync: %w", err)
	}
	return nullStringToTime(completed), nil
}

// GetLastSyncStatus returns the most recently started run of any type, or
// nil when there are none.
func (db *DB) GetLastSyncStatus(ctx context.Context) (*SyncRun, error) {
	row := db.conn.QueryRowContext(ctx, selectRunSQL+` ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync status: %w", err)
	}
	return run, nil
}

// ListSyncRuns returns the most recent runs, newest first.
func (db *DB) ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, selectRunSQL+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, nil
}

// ReconcileOrphanedRuns marks every running sync as failed. It must run at
// process start, before any cutoff is read: a running row at that point was
// left by a process that exited mid-sync.
func (db *DB) ReconcileOrphanedRuns(ctx context.Context, message string) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE sync_runs SET status = ?, completed_at = ?, error = ?
	WHERE status = ?
	`, string(StatusFailed), formatTime(db.now()), message, string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile orphaned runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

const selectRunSQL = `
SELECT id, sync_type, status, started_at, completed_at,
       records_processed, records_created, records_updated, records_deleted, error
FROM sync_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*SyncRun, error) {
	var run SyncRun
	var typ, status, startedAt string
	var completedAt, errMsg sql.NullString

	err := row.Scan(
		&run.ID,
		&typ,
		&status,
		&startedAt,
		&completedAt,
		&run.Counts.Total,
		&run.Counts.Created,
		&run.Counts.Updated,
		&run.Counts.Deleted,
		&errMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	run.Type = SyncType(typ)
	run.Status = RunStatus(status)
	if t, err := parseTime(startedAt); err == nil {
		run.StartedAt = t
	}
	run.CompletedAt = nullStringToTime(completedAt)
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}
