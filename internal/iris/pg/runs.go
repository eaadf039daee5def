package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/impactbot/irissync/internal/iris/db"
)

// StartSyncRecord creates a running sync record and returns it.
func (s *Store) StartSyncRecord(ctx context.Context, typ db.SyncType) (*db.SyncRun, error) {
	run := &db.SyncRun{
		ID:        db.NewRunID(),
		Type:      typ,
		Status:    db.StatusRunning,
		StartedAt: s.now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, sync_type, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Type), string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting sync run: %w", err)
	}
	return run, nil
}

// CompleteSyncRecord transitions a running sync to succeeded.
func (s *Store) CompleteSyncRecord(ctx context.Context, id string, counts db.Counts) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE sync_runs SET
    status = $1, completed_at = $2,
    records_processed = $3, records_created = $4, records_updated = $5, records_deleted = $6
WHERE id = $7 AND status = $8`,
		string(db.StatusSucceeded), s.now().UTC(),
		counts.Total, counts.Created, counts.Updated, counts.Deleted,
		id, string(db.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("completing sync run %s: %w", id, err)
	}
	return s.checkTransition(ctx, id, tag)
}

// FailSyncRecord transitions a running sync to failed with an error message.
func (s *Store) FailSyncRecord(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE sync_runs SET status = $1, completed_at = $2, error = $3
WHERE id = $4 AND status = $5`,
		string(db.StatusFailed), s.now().UTC(), message,
		id, string(db.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failing sync run %s: %w", id, err)
	}
	return s.checkTransition(ctx, id, tag)
}

func (s *Store) checkTransition(ctx context.Context, id string, tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM sync_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", db.ErrRunNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading sync run %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s is %s", db.ErrRunNotRunning, id, status)
}

// GetSyncRun returns one sync run by id.
func (s *Store) GetSyncRun(ctx context.Context, id string) (*db.SyncRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, selectRunSQL+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", db.ErrRunNotFound, id)
	}
	return run, err
}

// GetLastSuccessfulSync returns the completion time of the most recent
// succeeded run of the type, or nil when none ever succeeded.
func (s *Store) GetLastSuccessfulSync(ctx context.Context, typ db.SyncType) (*time.Time, error) {
	var completed *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT completed_at FROM sync_runs
WHERE sync_type = $1 AND status = $2
ORDER BY completed_at DESC
LIMIT 1`, string(typ), string(db.StatusSucceeded)).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last successful sync: %w", err)
	}
	return completed, nil
}

// GetLastSyncStatus returns the most recently started run, or nil.
func (s *Store) GetLastSyncStatus(ctx context.Context) (*db.SyncRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, selectRunSQL+` ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last sync status: %w", err)
	}
	return run, nil
}

// ReconcileOrphanedRuns marks every running sync as failed.
func (s *Store) ReconcileOrphanedRuns(ctx context.Context, message string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE sync_runs SET status = $1, completed_at = $2, error = $3
WHERE status = $4`,
		string(db.StatusFailed), s.now().UTC(), message, string(db.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("reconciling orphaned runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const selectRunSQL = `
SELECT id::text, sync_type, status, started_at, completed_at,
       records_processed, records_created, records_updated, records_deleted, error
FROM sync_runs`

func scanRun(row pgx.Row) (*db.SyncRun, error) {
	var run db.SyncRun
	var typ, status string
	err := row.Scan(
		&run.ID,
		&typ,
		&status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Counts.Total,
		&run.Counts.Created,
		&run.Counts.Updated,
		&run.Counts.Deleted,
		&run.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning sync run: %w", err)
	}
	run.Type = db.SyncType(typ)
	run.Status = db.RunStatus(status)
	return &run, nil
}
