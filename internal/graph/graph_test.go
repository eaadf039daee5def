package graph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/extract"
	"github.com/impactbot/irissync/internal/iris/schema"
)

const (
	cat1  = "recCategory000001"
	cat2  = "recCategory000002"
	sdg1  = "recSdg00000000001"
	sdg2  = "recSdg00000000002"
	data1 = "recDataNeeded0001"
	goal1 = "recGoal0000000001"
	goal2 = "recGoal0000000002"
	thm1  = "recTheme000000001"
	ki1   = "recKeyIndicator01"
	ki2   = "recKeyIndicator02"
)

// fixtureTables builds a small base: three junction rows realizing two
// category/data-needed edges, and two goals.
func fixtureTables() Tables {
	f := schema.DefaultFields()
	return Tables{
		schema.TableCategories: {
			{ID: cat1, Fields: map[string]any{"Name": "Climate"}},
			{ID: cat2, Fields: map[string]any{"Name": "Water"}},
		},
		schema.TableJunctDataNeeded: {
			{ID: "recJunction000001", Fields: map[string]any{
				f.CategoryLookup: []any{cat1},
				f.SDGLookup:      []any{sdg1, sdg2},
				f.DataNeeded:     []any{data1},
				f.KeyIndicator:   []any{ki1},
			}},
			{ID: "recJunction000002", Fields: map[string]any{
				f.CategoryLookup: []any{cat1},
				f.SDGLookup:      []any{sdg1},
				f.DataNeeded:     []any{data1},
				f.KeyIndicator:   []any{ki1, ki2},
			}},
			{ID: "recJunction000003", Fields: map[string]any{
				f.CategoryLookup: []any{cat2},
				f.DataNeeded:     []any{data1},
			}},
		},
		schema.TableGoals: {
			{ID: goal1, Fields: map[string]any{f.GoalThemes: []any{thm1}, f.GoalSDGs: []any{sdg1, sdg2}}},
			{ID: goal2, Fields: map[string]any{f.GoalThemes: []any{thm1}}},
		},
	}
}

func TestAssemble(t *testing.T) {
	g, err := Assemble(fixtureTables(), schema.DefaultFields())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	want := map[Relation]int{
		RelCategoryDataNeeded:    2,
		RelSDGDataNeeded:         2,
		RelCategorySDGDataNeeded: 2,
		RelThemeGoal:             2,
		RelGoalSDG:               2,
	}
	for rel, n := range want {
		if got := g.Count(rel); got != n {
			t.Errorf("Count(%s) = %d, want %d", rel, got, n)
		}
	}

	if !g.ThemeGoal.Has(thm1, goal2) {
		t.Error("theme_goal missing (theme, goal2)")
	}
	if !g.GoalSDG.Has(goal1, sdg2) {
		t.Error("goal_sdg missing (goal1, sdg2)")
	}
	if !g.CategorySDGDataNeeded.Has(cat1, sdg2, data1) {
		t.Error("triplet (cat1, sdg2, data1) missing")
	}
}

func TestAssemble_MissingTables(t *testing.T) {
	g, err := Assemble(Tables{}, schema.DefaultFields())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}
	for _, rel := range Relations {
		if g.Count(rel) != 0 {
			t.Errorf("Count(%s) = %d, want 0", rel, g.Count(rel))
		}
	}
}

func TestAssemble_NamesRelationOnError(t *testing.T) {
	tables := fixtureTables()
	tables[schema.TableGoals] = []airtable.Record{
		{ID: goal1, Fields: map[string]any{schema.DefaultGoalThemesField: []any{"Clean Energy"}}},
	}

	_, err := Assemble(tables, schema.DefaultFields())
	if !errors.Is(err, extract.ErrNotRecordID) {
		t.Fatalf("error = %v, want ErrNotRecordID", err)
	}
	if got := err.Error(); got[:len(RelThemeGoal)] != string(RelThemeGoal) {
		t.Errorf("error %q does not name the relation", got)
	}
}

func TestEdges(t *testing.T) {
	g, err := Assemble(fixtureTables(), schema.DefaultFields())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	e := g.Edges()
	if len(e.Pairs) != 4 {
		t.Errorf("len(Pairs) = %d, want 4 pair relations", len(e.Pairs))
	}
	if _, ok := e.Pairs[RelCategorySDGDataNeeded]; ok {
		t.Error("triplet relation listed as pairs")
	}
	if len(e.Triplets) != 2 {
		t.Errorf("len(Triplets) = %d, want 2", len(e.Triplets))
	}
	cdn := e.Pairs[RelCategoryDataNeeded]
	if len(cdn) != 2 || cdn[0].A != cat1 || cdn[1].A != cat2 {
		t.Errorf("category_data_needed = %v", cdn)
	}
}

func TestBuildReport(t *testing.T) {
	reg := schema.DefaultRegistry()

	r1, err := BuildReport(reg, fixtureTables())
	if err != nil {
		t.Fatalf("BuildReport() failed: %v", err)
	}
	r2, err := BuildReport(reg, fixtureTables())
	if err != nil {
		t.Fatalf("BuildReport() failed: %v", err)
	}
	if fmt.Sprint(r1) != fmt.Sprint(r2) {
		t.Errorf("reports differ:\n%v\n%v", r1, r2)
	}

	if r1.Edges(RelCategoryDataNeeded) != 2 {
		t.Errorf("category_data_needed = %d, want 2", r1.Edges(RelCategoryDataNeeded))
	}
	if r1.JunctionRows != 3 {
		t.Errorf("JunctionRows = %d, want 3", r1.JunctionRows)
	}
	// ki1 is linked twice to the same item; the third row has no link.
	if r1.KeyIndicatorLinks != 2 {
		t.Errorf("KeyIndicatorLinks = %d, want 2", r1.KeyIndicatorLinks)
	}
	if len(r1.Tables) != len(reg.Tables) {
		t.Fatalf("len(Tables) = %d, want %d", len(r1.Tables), len(reg.Tables))
	}
	if r1.Tables[0].Name != schema.TableCategories || r1.Tables[0].Records != 2 {
		t.Errorf("Tables[0] = %+v", r1.Tables[0])
	}
	for _, tc := range r1.Tables {
		if tc.Name == schema.TableJunctDataNeeded && !tc.Junction {
			t.Error("junct_data_needed not flagged as junction")
		}
	}
	for i, rc := range r1.Relations {
		if rc.Relation != Relations[i] {
			t.Errorf("Relations[%d] = %s, want %s", i, rc.Relation, Relations[i])
		}
	}
}

type fakeFetcher struct {
	tables  map[string][]airtable.Record
	failOn  string
	calls   int32
	current int32
	peak    int32
}

func (f *fakeFetcher) FetchAll(ctx context.Context, tableID string) ([]airtable.Record, error) {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.current, 1)
	defer atomic.AddInt32(&f.current, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if tableID == f.failOn {
		return nil, &airtable.TransferError{Table: tableID, Status: 500, Err: errors.New("boom")}
	}
	return f.tables[tableID], nil
}

func TestFetchTables(t *testing.T) {
	reg := schema.DefaultRegistry()
	goals, _ := reg.Table(schema.TableGoals)

	f := &fakeFetcher{tables: map[string][]airtable.Record{
		goals.ID: {{ID: goal1}, {ID: goal2}},
	}}

	tables, err := FetchTables(context.Background(), f, reg, 2)
	if err != nil {
		t.Fatalf("FetchTables() failed: %v", err)
	}
	if len(tables) != len(reg.Tables) {
		t.Errorf("len(tables) = %d, want %d", len(tables), len(reg.Tables))
	}
	if len(tables[schema.TableGoals]) != 2 {
		t.Errorf("goals = %d records, want 2", len(tables[schema.TableGoals]))
	}
	if f.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", f.peak)
	}
}

func TestFetchTables_Failure(t *testing.T) {
	reg := schema.DefaultRegistry()
	junction, _ := reg.Table(schema.TableJunctDataNeeded)

	f := &fakeFetcher{failOn: junction.ID}
	tables, err := FetchTables(context.Background(), f, reg, 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if tables != nil {
		t.Errorf("partial tables returned: %d", len(tables))
	}
	if !errors.Is(err, airtable.ErrTransfer) {
		t.Errorf("error = %v, want ErrTransfer", err)
	}
}
