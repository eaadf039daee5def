package extract

import (
	"errors"
	"testing"

	"github.com/impactbot/irissync/internal/airtable"
)

const (
	c1 = "recCategory000001"
	c2 = "recCategory000002"
	s1 = "recSdg00000000001"
	s2 = "recSdg00000000002"
	d1 = "recDataNeeded0001"
	d2 = "recDataNeeded0002"
	g1 = "recGoal0000000001"
	t1 = "recTheme000000001"
	t2 = "recTheme000000002"
)

func row(id string, fields map[string]any) airtable.Record {
	return airtable.Record{ID: id, Fields: fields}
}

func TestPairs_CrossProduct(t *testing.T) {
	records := []airtable.Record{
		row("recJunction000001", map[string]any{
			"cat":  []any{c1, c2},
			"data": []any{d1},
		}),
	}

	set, err := Pairs(records, "cat", "data")
	if err != nil {
		t.Fatalf("Pairs() failed: %v", err)
	}
	if len(set) != 2 || !set.Has(c1, d1) || !set.Has(c2, d1) {
		t.Errorf("pairs = %v, want {(C1,D1),(C2,D1)}", set.Sorted())
	}
}

func TestPairs_EmptySideContributesNothing(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"empty direct", map[string]any{"cat": []any{c1, c2}, "data": []any{}}},
		{"missing direct", map[string]any{"cat": []any{c1}}},
		{"nil direct", map[string]any{"cat": []any{c1}, "data": nil}},
		{"empty lookup", map[string]any{"cat": []any{}, "data": []any{d1}}},
		{"empty string ids", map[string]any{"cat": []any{""}, "data": []any{d1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Pairs([]airtable.Record{row("recJunction000001", tt.fields)}, "cat", "data")
			if err != nil {
				t.Fatalf("Pairs() failed: %v", err)
			}
			if len(set) != 0 {
				t.Errorf("pairs = %v, want none", set.Sorted())
			}
		})
	}
}

func TestPairs_Deduplication(t *testing.T) {
	records := []airtable.Record{
		row("recJunction000001", map[string]any{"cat": []any{c1}, "data": []any{d1}}),
		row("recJunction000002", map[string]any{"cat": []any{c1, c1}, "data": []any{d1}}),
	}

	set, err := Pairs(records, "cat", "data")
	if err != nil {
		t.Fatalf("Pairs() failed: %v", err)
	}
	if len(set) != 1 {
		t.Errorf("len(pairs) = %d, want 1", len(set))
	}
}

func TestPairs_ValueShapes(t *testing.T) {
	records := []airtable.Record{
		row("recJunction000001", map[string]any{
			"cat":  c1,
			"data": []any{[]any{d1, d2}},
		}),
	}

	set, err := Pairs(records, "cat", "data")
	if err != nil {
		t.Fatalf("Pairs() failed: %v", err)
	}
	if len(set) != 2 || !set.Has(c1, d1) || !set.Has(c1, d2) {
		t.Errorf("pairs = %v", set.Sorted())
	}
}

func TestPairs_RejectsNonRecordIDs(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"display name", []any{"Climate Mitigation"}},
		{"number", []any{float64(3)}},
		{"object", map[string]any{"id": c1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []airtable.Record{row("recJunction000001", map[string]any{"cat": tt.value, "data": []any{d1}})}
			_, err := Pairs(records, "cat", "data")
			if !errors.Is(err, ErrNotRecordID) {
				t.Fatalf("error = %v, want ErrNotRecordID", err)
			}

			var ve *ValueError
			if !errors.As(err, &ve) {
				t.Fatalf("error is not *ValueError: %T", err)
			}
			if ve.Record != "recJunction000001" || ve.Field != "cat" {
				t.Errorf("ValueError = %+v", ve)
			}
		})
	}
}

func TestTriplets_Composition(t *testing.T) {
	records := []airtable.Record{
		row("recJunction000001", map[string]any{
			"cat":  []any{c1},
			"sdg":  []any{s1, s2},
			"data": []any{d1},
		}),
	}

	set, err := Triplets(records, "cat", "sdg", "data")
	if err != nil {
		t.Fatalf("Triplets() failed: %v", err)
	}
	if len(set) != 2 || !set.Has(c1, s1, d1) || !set.Has(c1, s2, d1) {
		t.Errorf("triplets = %v, want {(C1,S1,D1),(C1,S2,D1)}", set.Sorted())
	}
}

func TestTriplets_MissingComponent(t *testing.T) {
	records := []airtable.Record{
		row("recJunction000001", map[string]any{"cat": []any{c1}, "data": []any{d1}}),
	}

	set, err := Triplets(records, "cat", "sdg", "data")
	if err != nil {
		t.Fatalf("Triplets() failed: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("triplets = %v, want none", set.Sorted())
	}
}

func TestOwnLinks(t *testing.T) {
	goals := []airtable.Record{
		row(g1, map[string]any{"themes": []any{t1, t2}, "sdg": []any{s1}}),
	}

	themeGoal, err := OwnLinks(goals, "themes", false)
	if err != nil {
		t.Fatalf("OwnLinks() failed: %v", err)
	}
	if len(themeGoal) != 2 || !themeGoal.Has(t1, g1) || !themeGoal.Has(t2, g1) {
		t.Errorf("theme_goal = %v", themeGoal.Sorted())
	}

	goalSDG, err := OwnLinks(goals, "sdg", true)
	if err != nil {
		t.Fatalf("OwnLinks() failed: %v", err)
	}
	if len(goalSDG) != 1 || !goalSDG.Has(g1, s1) {
		t.Errorf("goal_sdg = %v", goalSDG.Sorted())
	}
}

func TestOwnLinks_InvalidOwnerID(t *testing.T) {
	_, err := OwnLinks([]airtable.Record{row("goal-1", map[string]any{"themes": []any{t1}})}, "themes", false)
	if !errors.Is(err, ErrNotRecordID) {
		t.Errorf("error = %v, want ErrNotRecordID", err)
	}
}

func TestSorted_Deterministic(t *testing.T) {
	set := make(PairSet)
	set.Add(c2, d1)
	set.Add(c1, d2)
	set.Add(c1, d1)

	got := set.Sorted()
	want := []Pair{{c1, d1}, {c1, d2}, {c2, d1}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sorted() = %v, want %v", got, want)
		}
	}

	triplets := make(TripletSet)
	triplets.Add(c1, s2, d1)
	triplets.Add(c1, s1, d1)
	if ts := triplets.Sorted(); ts[0].B != s1 {
		t.Errorf("TripletSet.Sorted() = %v", ts)
	}
}

// Three junction rows realize only two distinct category/data-needed edges.
func TestPairs_EndToEnd(t *testing.T) {
	records := []airtable.Record{
		row("recJunction000001", map[string]any{"cat": []any{c1}, "data": []any{d1}}),
		row("recJunction000002", map[string]any{"cat": []any{c1}, "data": []any{d1}}),
		row("recJunction000003", map[string]any{"cat": []any{c2}, "data": []any{d1}}),
	}

	set, err := Pairs(records, "cat", "data")
	if err != nil {
		t.Fatalf("Pairs() failed: %v", err)
	}
	if len(set) != 2 {
		t.Errorf("len(pairs) = %d, want 2", len(set))
	}
}
