package sync

import (
	"context"
	"time"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/iris/db"
)

// Store is the relational store the manager writes to.
//
// Both the embedded SQLite store (db.DB) and the PostgreSQL store
// (pg.Store) satisfy it. The manager is the only writer of sync records.
type Store interface {
	// StartSyncRecord creates a running sync record.
	StartSyncRecord(ctx context.Context, typ db.SyncType) (*db.SyncRun, error)

	// CompleteSyncRecord transitions a running record to succeeded.
	// Returns db.ErrRunNotRunning if the record is already terminal and
	// db.ErrRunNotFound if the id is unknown.
	CompleteSyncRecord(ctx context.Context, id string, counts db.Counts) error

	// FailSyncRecord transitions a running record to failed.
	// Same errors as CompleteSyncRecord.
	FailSyncRecord(ctx context.Context, id string, message string) error

	// GetLastSuccessfulSync returns the completion time of the newest
	// succeeded record of the type, or nil.
	GetLastSuccessfulSync(ctx context.Context, typ db.SyncType) (*time.Time, error)

	// GetLastSyncStatus returns the newest record of any type, or nil.
	GetLastSyncStatus(ctx context.Context) (*db.SyncRun, error)

	// ReconcileOrphanedRuns marks every running record failed.
	ReconcileOrphanedRuns(ctx context.Context, message string) (int, error)

	// UpsertRecords writes one table's records, pruning absent rows when
	// prune is set.
	UpsertRecords(ctx context.Context, table string, records []airtable.Record, prune bool) (db.Counts, error)

	// LoadRecords returns every persisted record grouped by table.
	LoadRecords(ctx context.Context) (graph.Tables, error)

	// ReplaceEdges replaces the normalized edge tables.
	ReplaceEdges(ctx context.Context, edges graph.Edges) error

	// RefreshMaterializedViews recomputes the aggregate views.
	RefreshMaterializedViews(ctx context.Context) error

	// HealthCheck verifies the store answers queries.
	HealthCheck(ctx context.Context) error
}

// Source reads records from Airtable. *airtable.Client satisfies it.
type Source interface {
	FetchAll(ctx context.Context, tableID string) ([]airtable.Record, error)
	FetchModifiedSince(ctx context.Context, tableID string, since time.Time) ([]airtable.Record, error)
}

// EventType identifies a sync lifecycle event.
type EventType string

const (
	EventStarted        EventType = "sync_started"
	EventCompleted      EventType = "sync_complete"
	EventFailed         EventType = "sync_failed"
	EventViewsRefreshed EventType = "views_refreshed"
)

// Event describes one step of the sync lifecycle.
type Event struct {
	Type     EventType     `json:"type"`
	RunID    string        `json:"run_id,omitempty"`
	SyncType db.SyncType   `json:"sync_type,omitempty"`
	Counts   db.Counts     `json:"counts"`
	Cutoff   *time.Time    `json:"cutoff,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Time     time.Time     `json:"time"`
}

// Observer receives lifecycle events. Observe is called synchronously from
// the sync job and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }
