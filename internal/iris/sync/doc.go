// Package sync runs Airtable-to-store synchronization with an audited run
// lifecycle.
//
// # Overview
//
// Every sync attempt is a run. A run record is created in the running state
// before any transfer work, and is transitioned exactly once, to succeeded
// with its counters or to failed with the error text:
//
//	StartRun ──► running ──┬──► succeeded (CompleteRun)
//	                       └──► failed    (FailRun)
//
// Runs left running by a crashed process are marked failed by Recover. Every
// process that runs syncs calls it once at startup, before any cutoff is
// read; the scheduler and the one-shot commands alike. Only succeeded runs
// ever define a delta cutoff, so an orphan is never trusted either way.
//
// Data flow
//
//	Airtable (12 tables)
//	     │  FetchAll / FetchModifiedSince
//	     ▼
//	Manager.transfer ──► UpsertRecords (per table, last write wins)
//	     │
//	     ▼
//	LoadRecords ──► graph.Assemble ──► ReplaceEdges
//	     │
//	     ▼
//	RefreshViews (after both full and delta runs)
//
// Every table is fetched before anything is written, so a transfer error
// leaves the store untouched. A failure while writing does not roll back
// tables already stored; the run record still reads failed.
//
// # Delta runs
//
// RunDelta reads the completion time of the last succeeded delta run and
// fetches only the records modified at or after it. In DeltaServer mode the
// filter is pushed to Airtable with LAST_MODIFIED_TIME(); in DeltaClient mode
// every record is fetched and filtered on the configured last-modified field.
// With no previous success, a delta run fetches everything but prunes
// nothing, so a delta run never deletes rows.
//
// The cutoff is the previous run's completion, not the moment it fetched a
// table. A record edited while that run was fetching later tables, and after
// its own table was fetched, is older than the next cutoff and is skipped by
// every delta until the next full sync picks it up.
//
// Usage
//
//	manager, err := sync.New(store, client, &sync.Config{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if _, err := manager.Recover(ctx); err != nil {
//	    return err
//	}
//	result, err := manager.RunFull(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := manager.RefreshViews(ctx); err != nil {
//	    return err
//	}
//	fmt.Printf("synced %d records\n", result.Counts.Total)
//
// # Concurrency
//
// A Manager is not meant for concurrent runs. The scheduler in package
// daemon runs jobs one at a time with single-flight per job.
package sync
