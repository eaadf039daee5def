package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/iris/db"
	"github.com/impactbot/irissync/internal/iris/schema"
)

// ErrReconcile is wrapped by errors caused by records of unexpected shape.
var ErrReconcile = errors.New("reconciliation failed")

// OrphanedRunMessage is stored on runs found running at startup.
const OrphanedRunMessage = "interrupted: process exited before the run finished"

// DeltaMode selects how a delta sync narrows its fetch.
type DeltaMode string

const (
	// DeltaServer filters with LAST_MODIFIED_TIME() in filterByFormula.
	DeltaServer DeltaMode = "server"

	// DeltaClient fetches every record and filters on the last-modified field.
	DeltaClient DeltaMode = "client"
)

// ParseDeltaMode parses "server" or "client". Empty means server.
func ParseDeltaMode(s string) (DeltaMode, error) {
	switch DeltaMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeltaServer:
		return DeltaServer, nil
	case DeltaClient:
		return DeltaClient, nil
	}
	return "", fmt.Errorf("invalid delta mode %q (want server or client)", s)
}

// Config holds configuration for the sync manager.
type Config struct {
	// Registry lists the tables to sync (default: schema.DefaultRegistry())
	Registry *schema.Registry

	// DeltaMode selects server- or client-side delta filtering (default: server)
	DeltaMode DeltaMode

	// Observers receive lifecycle events
	Observers []Observer

	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger
}

// Result summarizes one finished run.
type Result struct {
	RunID    string        `json:"run_id"`
	Type     db.SyncType   `json:"sync_type"`
	Counts   db.Counts     `json:"counts"`
	Cutoff   *time.Time    `json:"cutoff,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Manager owns the lifecycle of sync runs: it starts a run record, transfers
// Airtable records into the store, and completes or fails the record
// exactly once.
type Manager struct {
	store     Store
	source    Source
	registry  *schema.Registry
	deltaMode DeltaMode
	observers []Observer
	logger    *log.Logger

	now func() time.Time
}

// New creates a Manager.
//
// Example:
//
//	client, _ := airtable.New(&airtable.Config{BaseID: base, Token: token})
//	store, _ := db.Open("data/irissync.db")
//	manager, err := sync.New(store, client, nil)
func New(store Store, source Source, config *Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}

	m := &Manager{
		store:     store,
		source:    source,
		registry:  config.Registry,
		deltaMode: config.DeltaMode,
		observers: config.Observers,
		logger:    config.Logger,
		now:       time.Now,
	}
	if m.registry == nil {
		m.registry = schema.DefaultRegistry()
	}
	if err := m.registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table registry: %w", err)
	}
	if m.deltaMode == "" {
		m.deltaMode = DeltaServer
	}
	if m.deltaMode != DeltaServer && m.deltaMode != DeltaClient {
		return nil, fmt.Errorf("invalid delta mode %q", m.deltaMode)
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return m, nil
}

// Store returns the manager's store.
func (m *Manager) Store() Store {
	return m.store
}

// Recover marks runs left running by a previous process as failed. Call it
// once at startup before any cutoff is read.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	n, err := m.store.ReconcileOrphanedRuns(ctx, OrphanedRunMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned runs: %w", err)
	}
	if n > 0 {
		m.logger.Printf("Marked %d orphaned run(s) as failed", n)
	}
	return n, nil
}

// StartRun creates a running sync record and returns its id.
func (m *Manager) StartRun(ctx context.Context, typ db.SyncType) (string, error) {
	run, err := m.store.StartSyncRecord(ctx, typ)
	if err != nil {
		return "", fmt.Errorf("failed to start %s run: %w", typ.Short(), err)
	}
	return run.ID, nil
}

// CompleteRun marks a running sync succeeded with its counters.
func (m *Manager) CompleteRun(ctx context.Context, id string, counts db.Counts) error {
	if err := m.store.CompleteSyncRecord(ctx, id, counts); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// FailRun marks a running sync failed with an error message.
func (m *Manager) FailRun(ctx context.Context, id string, message string) error {
	if err := m.store.FailSyncRecord(ctx, id, message); err != nil {
		return fmt.Errorf("failed to record run failure: %w", err)
	}
	return nil
}

// LastSuccessful returns when the last succeeded run of the type completed,
// or nil when none ever succeeded.
func (m *Manager) LastSuccessful(ctx context.Context, typ db.SyncType) (*time.Time, error) {
	t, err := m.store.GetLastSuccessfulSync(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to read last successful %s sync: %w", typ.Short(), err)
	}
	return t, nil
}

// RunFull performs a recorded full sync.
func (m *Manager) RunFull(ctx context.Context) (*Result, error) {
	return m.run(ctx, db.SyncFull, nil, func(ctx context.Context) (db.Counts, error) {
		return m.FullSync(ctx)
	})
}

// RunDelta performs a recorded delta sync. The cutoff is the completion of
// the last successful delta run, read before this run starts; with no
// such run every record is fetched.
//
// Records edited between the previous run's fetch of their table and that
// run's completion fall before the cutoff and wait for the next full sync.
func (m *Manager) RunDelta(ctx context.Context) (*Result, error) {
	cutoff, err := m.LastSuccessful(ctx, db.SyncDelta)
	if err != nil {
		return nil, err
	}
	return m.RunDeltaSince(ctx, cutoff)
}

// RunDeltaSince performs a recorded delta sync with an explicit cutoff.
func (m *Manager) RunDeltaSince(ctx context.Context, cutoff *time.Time) (*Result, error) {
	return m.run(ctx, db.SyncDelta, cutoff, func(ctx context.Context) (db.Counts, error) {
		return m.DeltaSync(ctx, cutoff)
	})
}

// run wraps one transfer in the run lifecycle. Whatever happens inside
// transfer, the record is completed or failed exactly once and the failure
// is also returned.
func (m *Manager) run(ctx context.Context, typ db.SyncType, cutoff *time.Time, transfer func(context.Context) (db.Counts, error)) (*Result, error) {
	// Bookkeeping writes must land even if ctx is cancelled mid-transfer.
	bookkeeping := context.WithoutCancel(ctx)

	start := m.now()
	id, err := m.StartRun(bookkeeping, typ)
	if err != nil {
		return nil, err
	}

	if cutoff != nil {
		m.logger.Printf("Starting %s sync %s (cutoff %s)", typ.Short(), id, cutoff.UTC().Format(time.RFC3339))
	} else {
		m.logger.Printf("Starting %s sync %s", typ.Short(), id)
	}
	m.emit(Event{Type: EventStarted, RunID: id, SyncType: typ, Cutoff: cutoff})

	counts, err := m.safeTransfer(ctx, transfer)
	result := &Result{RunID: id, Type: typ, Counts: counts, Cutoff: cutoff, Duration: m.now().Sub(start)}

	if err != nil {
		if ferr := m.FailRun(bookkeeping, id, err.Error()); ferr != nil {
			m.logger.Printf("ERROR: %v", ferr)
		}
		m.logger.Printf("%s sync %s failed after %v: %v", typ.Short(), id, result.Duration, err)
		m.emit(Event{Type: EventFailed, RunID: id, SyncType: typ, Counts: counts, Cutoff: cutoff, Duration: result.Duration, Error: err.Error()})
		return result, fmt.Errorf("%s sync failed: %w", typ.Short(), err)
	}

	if err := m.CompleteRun(bookkeeping, id, counts); err != nil {
		// The record must not stay running; fail it with the completion error.
		if ferr := m.FailRun(bookkeeping, id, err.Error()); ferr != nil {
			m.logger.Printf("ERROR: %v", ferr)
		}
		m.logger.Printf("%s sync %s could not be completed: %v", typ.Short(), id, err)
		m.emit(Event{Type: EventFailed, RunID: id, SyncType: typ, Counts: counts, Cutoff: cutoff, Duration: result.Duration, Error: err.Error()})
		return result, err
	}

	m.logger.Printf("%s sync %s complete in %v: total=%d created=%d updated=%d deleted=%d",
		typ.Short(), id, result.Duration, counts.Total, counts.Created, counts.Updated, counts.Deleted)
	m.emit(Event{Type: EventCompleted, RunID: id, SyncType: typ, Counts: counts, Cutoff: cutoff, Duration: result.Duration})
	return result, nil
}

// safeTransfer turns a panic inside transfer into an error so the run is
// still failed.
func (m *Manager) safeTransfer(ctx context.Context, transfer func(context.Context) (db.Counts, error)) (counts db.Counts, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during transfer: %v", r)
		}
	}()
	return transfer(ctx)
}

// FullSync fetches every table, reconciles every record, and rebuilds the
// edge tables. Rows no longer present at the source are pruned.
func (m *Manager) FullSync(ctx context.Context) (db.Counts, error) {
	return m.transfer(ctx, func(ctx context.Context, t schema.Table) ([]airtable.Record, error) {
		return m.source.FetchAll(ctx, t.ID)
	}, true)
}

// DeltaSync fetches the records modified at or after since and reconciles
// them. A nil since fetches everything without pruning. Edges are always rebuilt from the
// full persisted record set.
func (m *Manager) DeltaSync(ctx context.Context, since *time.Time) (db.Counts, error) {
	if since == nil {
		m.logger.Printf("No delta cutoff; fetching every record")
		return m.transfer(ctx, func(ctx context.Context, t schema.Table) ([]airtable.Record, error) {
			return m.source.FetchAll(ctx, t.ID)
		}, false)
	}

	cutoff := *since
	if m.deltaMode == DeltaClient {
		field := m.registry.Fields.LastModified
		return m.transfer(ctx, func(ctx context.Context, t schema.Table) ([]airtable.Record, error) {
			records, err := m.source.FetchAll(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			return airtable.FilterModifiedSince(records, field, cutoff), nil
		}, false)
	}

	return m.transfer(ctx, func(ctx context.Context, t schema.Table) ([]airtable.Record, error) {
		return m.source.FetchModifiedSince(ctx, t.ID, cutoff)
	}, false)
}

type fetchFunc func(ctx context.Context, t schema.Table) ([]airtable.Record, error)

// transfer fetches every table before writing anything, so a transfer
// error leaves the store untouched.
func (m *Manager) transfer(ctx context.Context, fetch fetchFunc, prune bool) (db.Counts, error) {
	fetched := make(graph.Tables, len(m.registry.Tables))
	for _, t := range m.registry.Tables {
		records, err := fetch(ctx, t)
		if err != nil {
			return db.Counts{}, fmt.Errorf("failed to fetch %s: %w", t.Name, err)
		}
		if err := validateShape(t, records); err != nil {
			return db.Counts{}, err
		}
		fetched[t.Name] = records
	}

	var total db.Counts
	for _, t := range m.registry.Tables {
		counts, err := m.store.UpsertRecords(ctx, t.Name, fetched[t.Name], prune)
		if err != nil {
			return total, fmt.Errorf("failed to store %s: %w", t.Name, err)
		}
		if counts.Total > 0 || counts.Deleted > 0 {
			m.logger.Printf("Synced %s: %d records (created=%d updated=%d deleted=%d)",
				t.Name, counts.Total, counts.Created, counts.Updated, counts.Deleted)
		}
		total = total.Add(counts)
	}

	if err := m.rebuildEdges(ctx); err != nil {
		return total, err
	}
	return total, nil
}

// rebuildEdges reassembles the relationship graph from every persisted record.
func (m *Manager) rebuildEdges(ctx context.Context) error {
	tables, err := m.store.LoadRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	g, err := graph.Assemble(tables, m.registry.Fields)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReconcile, err)
	}
	if err := m.store.ReplaceEdges(ctx, g.Edges()); err != nil {
		return fmt.Errorf("failed to store edges: %w", err)
	}

	m.logger.Printf("Rebuilt edges: category_data_needed=%d sdg_data_needed=%d triplets=%d theme_goal=%d goal_sdg=%d",
		g.Count(graph.RelCategoryDataNeeded), g.Count(graph.RelSDGDataNeeded),
		g.Count(graph.RelCategorySDGDataNeeded), g.Count(graph.RelThemeGoal), g.Count(graph.RelGoalSDG))
	return nil
}

// validateShape rejects records without an id.
func validateShape(t schema.Table, records []airtable.Record) error {
	for i, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%w: %s record %d has no id", ErrReconcile, t.Name, i)
		}
	}
	return nil
}

// RefreshViews recomputes the aggregate views. It is safe to run redundantly.
func (m *Manager) RefreshViews(ctx context.Context) error {
	start := m.now()
	if err := m.store.RefreshMaterializedViews(ctx); err != nil {
		return fmt.Errorf("failed to refresh views: %w", err)
	}
	d := m.now().Sub(start)
	m.logger.Printf("Materialized views refreshed in %v", d)
	m.emit(Event{Type: EventViewsRefreshed, Duration: d})
	return nil
}

func (m *Manager) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = m.now()
	}
	for _, o := range m.observers {
		o.Observe(e)
	}
}
