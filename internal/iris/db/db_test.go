package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/extract"
	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/iris/schema"
)

// setupTestDB opens a fresh database with the schema applied and a clock
// that advances one second per call.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	clock := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	db.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return db
}

func TestOpen_FilePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "irissync.db")
	db, err := Open("file:" + path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() failed: %v", err)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}

	tables := append([]string{"records", "sync_runs"}, Views...)
	for _, rel := range graph.Relations {
		tables = append(tables, string(rel))
	}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestHealthCheck_Closed(t *testing.T) {
	db := setupTestDB(t)
	db.Close()

	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on closed database succeeded")
	}
}

func TestSyncRecord_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	run, err := db.StartSyncRecord(ctx, SyncFull)
	if err != nil {
		t.Fatalf("StartSyncRecord() failed: %v", err)
	}
	if run.Status != StatusRunning || run.ID == "" {
		t.Fatalf("run = %+v", run)
	}

	counts := Counts{Total: 10, Created: 4, Updated: 2}
	if err := db.CompleteSyncRecord(ctx, run.ID, counts); err != nil {
		t.Fatalf("CompleteSyncRecord() failed: %v", err)
	}

	got, err := db.GetSyncRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetSyncRun() failed: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("Status = %s, want succeeded", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt is nil")
	}
	if !got.CompletedAt.After(got.StartedAt) {
		t.Errorf("CompletedAt %v not after StartedAt %v", got.CompletedAt, got.StartedAt)
	}
	if got.Counts != counts {
		t.Errorf("Counts = %+v, want %+v", got.Counts, counts)
	}
	if got.Error != nil {
		t.Errorf("Error = %q, want nil", *got.Error)
	}

	// Terminal runs reject further transitions.
	if err := db.FailSyncRecord(ctx, run.ID, "late failure"); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("FailSyncRecord() after complete = %v, want ErrRunNotRunning", err)
	}
	if err := db.CompleteSyncRecord(ctx, run.ID, counts); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("CompleteSyncRecord() twice = %v, want ErrRunNotRunning", err)
	}
}

func TestFailSyncRecord(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	run, err := db.StartSyncRecord(ctx, SyncDelta)
	if err != nil {
		t.Fatalf("StartSyncRecord() failed: %v", err)
	}
	if err := db.FailSyncRecord(ctx, run.ID, "fetching table tblX: status 503"); err != nil {
		t.Fatalf("FailSyncRecord() failed: %v", err)
	}

	got, err := db.GetSyncRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetSyncRun() failed: %v", err)
	}
	if got.Status != StatusFailed || got.Error == nil || *got.Error != "fetching table tblX: status 503" {
		t.Errorf("run = %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil")
	}
	if err := db.CompleteSyncRecord(ctx, run.ID, Counts{}); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("CompleteSyncRecord() after fail = %v, want ErrRunNotRunning", err)
	}
}

func TestSyncRecord_UnknownID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	if err := db.CompleteSyncRecord(ctx, "missing", Counts{}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("CompleteSyncRecord() = %v, want ErrRunNotFound", err)
	}
	if err := db.FailSyncRecord(ctx, "missing", "x"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FailSyncRecord() = %v, want ErrRunNotFound", err)
	}
	if _, err := db.GetSyncRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetSyncRun() = %v, want ErrRunNotFound", err)
	}
}

func TestGetLastSuccessfulSync(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	last, err := db.GetLastSuccessfulSync(ctx, SyncDelta)
	if err != nil {
		t.Fatalf("GetLastSuccessfulSync() failed: %v", err)
	}
	if last != nil {
		t.Fatalf("last = %v, want nil before any run", last)
	}

	var completions []time.Time
	for i := 0; i < 2; i++ {
		run, err := db.StartSyncRecord(ctx, SyncDelta)
		if err != nil {
			t.Fatalf("StartSyncRecord() failed: %v", err)
		}
		if err := db.CompleteSyncRecord(ctx, run.ID, Counts{}); err != nil {
			t.Fatalf("CompleteSyncRecord() failed: %v", err)
		}
		got, _ := db.GetSyncRun(ctx, run.ID)
		completions = append(completions, *got.CompletedAt)
	}

	// A later failed run and a full run do not move the delta cutoff.
	failed, _ := db.StartSyncRecord(ctx, SyncDelta)
	_ = db.FailSyncRecord(ctx, failed.ID, "boom")
	full, _ := db.StartSyncRecord(ctx, SyncFull)
	_ = db.CompleteSyncRecord(ctx, full.ID, Counts{})

	last, err = db.GetLastSuccessfulSync(ctx, SyncDelta)
	if err != nil {
		t.Fatalf("GetLastSuccessfulSync() failed: %v", err)
	}
	if last == nil || !last.Equal(completions[1]) {
		t.Errorf("last = %v, want %v", last, completions[1])
	}
}

func TestGetLastSyncStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	if run, err := db.GetLastSyncStatus(ctx); err != nil || run != nil {
		t.Fatalf("GetLastSyncStatus() = %v, %v; want nil, nil", run, err)
	}

	first, _ := db.StartSyncRecord(ctx, SyncFull)
	_ = db.CompleteSyncRecord(ctx, first.ID, Counts{})
	second, _ := db.StartSyncRecord(ctx, SyncDelta)
	_ = db.FailSyncRecord(ctx, second.ID, "boom")

	run, err := db.GetLastSyncStatus(ctx)
	if err != nil {
		t.Fatalf("GetLastSyncStatus() failed: %v", err)
	}
	if run.ID != second.ID || run.Status != StatusFailed {
		t.Errorf("last run = %+v, want failed %s", run, second.ID)
	}

	runs, err := db.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListSyncRuns() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID {
		t.Errorf("ListSyncRuns() = %d runs", len(runs))
	}
}

func TestReconcileOrphanedRuns(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	done, _ := db.StartSyncRecord(ctx, SyncFull)
	_ = db.CompleteSyncRecord(ctx, done.ID, Counts{})
	orphan1, _ := db.StartSyncRecord(ctx, SyncDelta)
	orphan2, _ := db.StartSyncRecord(ctx, SyncFull)

	n, err := db.ReconcileOrphanedRuns(ctx, "interrupted")
	if err != nil {
		t.Fatalf("ReconcileOrphanedRuns() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reconciled = %d, want 2", n)
	}

	for _, id := range []string{orphan1.ID, orphan2.ID} {
		run, _ := db.GetSyncRun(ctx, id)
		if run.Status != StatusFailed || run.CompletedAt == nil || *run.Error != "interrupted" {
			t.Errorf("orphan %s = %+v", id, run)
		}
	}
	if run, _ := db.GetSyncRun(ctx, done.ID); run.Status != StatusSucceeded {
		t.Errorf("completed run changed to %s", run.Status)
	}

	// The orphaned full run must not count as a successful cutoff.
	last, _ := db.GetLastSuccessfulSync(ctx, SyncFull)
	if run, _ := db.GetSyncRun(ctx, done.ID); last == nil || !last.Equal(*run.CompletedAt) {
		t.Errorf("cutoff = %v, want completion of %s", last, done.ID)
	}

	if n, _ := db.ReconcileOrphanedRuns(ctx, "interrupted"); n != 0 {
		t.Errorf("second reconcile = %d, want 0", n)
	}
}

func rec(id string, fields map[string]any) airtable.Record {
	return airtable.Record{ID: id, Fields: fields}
}

func TestUpsertRecords_Counts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	first := []airtable.Record{
		rec("recGoal0000000001", map[string]any{"Name": "Zero Hunger"}),
		rec("recGoal0000000002", map[string]any{"Name": "Clean Water"}),
	}
	counts, err := db.UpsertRecords(ctx, schema.TableGoals, first, false)
	if err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}
	if counts != (Counts{Total: 2, Created: 2}) {
		t.Errorf("first counts = %+v", counts)
	}

	second := []airtable.Record{
		rec("recGoal0000000001", map[string]any{"Name": "Zero Hunger"}),
		rec("recGoal0000000002", map[string]any{"Name": "Clean Water & Sanitation"}),
		rec("recGoal0000000003", map[string]any{"Name": "Climate Action"}),
	}
	counts, err = db.UpsertRecords(ctx, schema.TableGoals, second, false)
	if err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}
	if counts != (Counts{Total: 3, Created: 1, Updated: 1}) {
		t.Errorf("second counts = %+v", counts)
	}

	n, err := db.CountRecords(ctx, schema.TableGoals)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("CountRecords() = %d, want 3", n)
	}
}

func TestUpsertRecords_Prune(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := db.UpsertRecords(ctx, schema.TableSDGs, []airtable.Record{
		rec("recSdg00000000001", map[string]any{"Name": "SDG 1"}),
		rec("recSdg00000000002", map[string]any{"Name": "SDG 2"}),
	}, false)
	if err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}
	// Another table's rows are never pruned.
	if _, err := db.UpsertRecords(ctx, schema.TableGoals, []airtable.Record{rec("recGoal0000000001", nil)}, false); err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}

	counts, err := db.UpsertRecords(ctx, schema.TableSDGs, []airtable.Record{
		rec("recSdg00000000002", map[string]any{"Name": "SDG 2"}),
	}, true)
	if err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}
	if counts != (Counts{Total: 1, Deleted: 1}) {
		t.Errorf("counts = %+v", counts)
	}

	if n, _ := db.CountRecords(ctx, ""); n != 2 {
		t.Errorf("CountRecords() = %d, want 2", n)
	}
}

func TestUpsertRecords_DuplicateInBatch(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	counts, err := db.UpsertRecords(ctx, schema.TableThemes, []airtable.Record{
		rec("recTheme000000001", map[string]any{"Name": "A"}),
		rec("recTheme000000001", map[string]any{"Name": "B"}),
	}, false)
	if err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}
	if counts.Created != 1 || counts.Updated != 0 {
		t.Errorf("counts = %+v", counts)
	}

	tables, err := db.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("LoadRecords() failed: %v", err)
	}
	// Last write wins.
	if got := tables[schema.TableThemes][0].Fields["Name"]; got != "B" {
		t.Errorf("Name = %v, want B", got)
	}
}

func TestLoadRecords_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	created := time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)
	in := airtable.Record{
		ID:          "recJunction000001",
		CreatedTime: created,
		Fields: map[string]any{
			schema.DefaultDataNeededField: []any{"recDataNeeded0001"},
			"Count":                       float64(3),
		},
	}
	if _, err := db.UpsertRecords(ctx, schema.TableJunctDataNeeded, []airtable.Record{in}, false); err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}

	tables, err := db.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("LoadRecords() failed: %v", err)
	}
	got := tables[schema.TableJunctDataNeeded]
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if !got[0].CreatedTime.Equal(created) {
		t.Errorf("CreatedTime = %v", got[0].CreatedTime)
	}
	ids, err := extract.IDs(got[0], schema.DefaultDataNeededField)
	if err != nil || len(ids) != 1 || ids[0] != "recDataNeeded0001" {
		t.Errorf("IDs() = %v, %v", ids, err)
	}
	if got[0].Fields["Count"] != float64(3) {
		t.Errorf("Count = %v", got[0].Fields["Count"])
	}
}

func TestEncodeFields_KeyOrder(t *testing.T) {
	_, h1, err := EncodeFields(map[string]any{"a": 1, "b": []any{"x"}})
	if err != nil {
		t.Fatalf("EncodeFields() failed: %v", err)
	}
	_, h2, _ := EncodeFields(map[string]any{"b": []any{"x"}, "a": 1})
	if h1 != h2 {
		t.Error("hash depends on map order")
	}
	_, h3, _ := EncodeFields(map[string]any{"a": 2, "b": []any{"x"}})
	if h1 == h3 {
		t.Error("hash ignores values")
	}
}

func testEdges() graph.Edges {
	return graph.Edges{
		Pairs: map[graph.Relation][]extract.Pair{
			graph.RelCategoryDataNeeded: {{A: "recCategory000001", B: "recDataNeeded0001"}, {A: "recCategory000002", B: "recDataNeeded0001"}},
			graph.RelSDGDataNeeded:      {{A: "recSdg00000000001", B: "recDataNeeded0001"}},
			graph.RelThemeGoal:          {{A: "recTheme000000001", B: "recGoal0000000001"}},
			graph.RelGoalSDG:            {{A: "recGoal0000000001", B: "recSdg00000000001"}},
		},
		Triplets: []extract.Triplet{{A: "recCategory000001", B: "recSdg00000000001", C: "recDataNeeded0001"}},
	}
}

func TestReplaceEdges(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	if err := db.ReplaceEdges(ctx, testEdges()); err != nil {
		t.Fatalf("ReplaceEdges() failed: %v", err)
	}
	want := map[graph.Relation]int{
		graph.RelCategoryDataNeeded:    2,
		graph.RelSDGDataNeeded:         1,
		graph.RelCategorySDGDataNeeded: 1,
		graph.RelThemeGoal:             1,
		graph.RelGoalSDG:               1,
	}
	for rel, n := range want {
		got, err := db.CountEdges(ctx, rel)
		if err != nil {
			t.Fatalf("CountEdges(%s) failed: %v", rel, err)
		}
		if got != n {
			t.Errorf("CountEdges(%s) = %d, want %d", rel, got, n)
		}
	}

	// Replacing with a smaller graph drops stale edges.
	smaller := graph.Edges{Pairs: map[graph.Relation][]extract.Pair{
		graph.RelThemeGoal: {{A: "recTheme000000002", B: "recGoal0000000001"}},
	}}
	if err := db.ReplaceEdges(ctx, smaller); err != nil {
		t.Fatalf("ReplaceEdges() failed: %v", err)
	}
	if n, _ := db.CountEdges(ctx, graph.RelCategoryDataNeeded); n != 0 {
		t.Errorf("category_data_needed = %d, want 0", n)
	}
	if n, _ := db.CountEdges(ctx, graph.RelThemeGoal); n != 1 {
		t.Errorf("theme_goal = %d, want 1", n)
	}

	if _, err := db.CountEdges(ctx, "bogus"); err == nil {
		t.Error("CountEdges(bogus) succeeded")
	}
}

func TestRefreshMaterializedViews(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := db.UpsertRecords(ctx, schema.TableCategories, []airtable.Record{
		rec("recCategory000001", map[string]any{"Name": "Climate"}),
		rec("recCategory000002", map[string]any{"Name": "Water"}),
		rec("recCategory000003", map[string]any{"Name": "Unlinked"}),
	}, false)
	if err != nil {
		t.Fatalf("UpsertRecords() failed: %v", err)
	}
	if err := db.ReplaceEdges(ctx, testEdges()); err != nil {
		t.Fatalf("ReplaceEdges() failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := db.RefreshMaterializedViews(ctx); err != nil {
			t.Fatalf("RefreshMaterializedViews() #%d failed: %v", i+1, err)
		}
	}

	coverage, err := db.GetCategoryCoverage(ctx)
	if err != nil {
		t.Fatalf("GetCategoryCoverage() failed: %v", err)
	}
	want := []CategoryCoverage{
		{CategoryID: "recCategory000001", DataNeededCount: 1, SDGCount: 1},
		{CategoryID: "recCategory000002", DataNeededCount: 1, SDGCount: 0},
		{CategoryID: "recCategory000003", DataNeededCount: 0, SDGCount: 0},
	}
	if len(coverage) != len(want) {
		t.Fatalf("coverage = %+v", coverage)
	}
	for i := range want {
		if coverage[i] != want[i] {
			t.Errorf("coverage[%d] = %+v, want %+v", i, coverage[i], want[i])
		}
	}
}

func TestSyncType_Short(t *testing.T) {
	if SyncFull.Short() != "full" || SyncDelta.Short() != "delta" {
		t.Errorf("Short() = %q, %q", SyncFull.Short(), SyncDelta.Short())
	}
}
