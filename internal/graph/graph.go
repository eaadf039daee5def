// Package graph assembles the normalized taxonomy relationship graph from
// fetched Airtable tables.
//
// Three relations come from the most deeply joined junction table
// (junct_data_needed), whose rows expose category and SDG ancestors through
// lookup fields. The other two come from the goals table's own link fields.
package graph

import (
	"fmt"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/extract"
	"github.com/impactbot/irissync/internal/iris/schema"
)

// Relation names one edge set of the normalized graph. The names double as
// edge table names in the relational stores.
type Relation string

const (
	RelCategoryDataNeeded    Relation = "category_data_needed"
	RelSDGDataNeeded         Relation = "sdg_data_needed"
	RelCategorySDGDataNeeded Relation = "category_sdg_data_needed"
	RelThemeGoal             Relation = "theme_goal"
	RelGoalSDG               Relation = "goal_sdg"
)

// Relations lists every relation in report order.
var Relations = []Relation{
	RelCategoryDataNeeded,
	RelSDGDataNeeded,
	RelCategorySDGDataNeeded,
	RelThemeGoal,
	RelGoalSDG,
}

// IsTriplet reports whether the relation joins three entities.
func (r Relation) IsTriplet() bool {
	return r == RelCategorySDGDataNeeded
}

// Columns returns the edge table's endpoint columns in tuple order.
func (r Relation) Columns() []string {
	switch r {
	case RelCategoryDataNeeded:
		return []string{"category_id", "data_needed_id"}
	case RelSDGDataNeeded:
		return []string{"sdg_id", "data_needed_id"}
	case RelCategorySDGDataNeeded:
		return []string{"category_id", "sdg_id", "data_needed_id"}
	case RelThemeGoal:
		return []string{"theme_id", "goal_id"}
	case RelGoalSDG:
		return []string{"goal_id", "sdg_id"}
	}
	return nil
}

// Tables maps logical table names to their fetched records.
type Tables map[string][]airtable.Record

// Graph holds the deduplicated edge sets of every relation.
type Graph struct {
	CategoryDataNeeded    extract.PairSet
	SDGDataNeeded         extract.PairSet
	CategorySDGDataNeeded extract.TripletSet
	ThemeGoal             extract.PairSet
	GoalSDG               extract.PairSet

	// KeyIndicatorDataNeeded links each key-indicator junction row to the
	// data-needed items reached through it. It is reported but not stored.
	KeyIndicatorDataNeeded extract.PairSet
}

// Assemble extracts every relation from already-fetched tables. Missing
// tables contribute no edges.
func Assemble(tables Tables, fields schema.Fields) (*Graph, error) {
	junction := tables[schema.TableJunctDataNeeded]
	goals := tables[schema.TableGoals]

	g := &Graph{}
	var err error

	if g.CategoryDataNeeded, err = extract.Pairs(junction, fields.CategoryLookup, fields.DataNeeded); err != nil {
		return nil, fmt.Errorf("%s: %w", RelCategoryDataNeeded, err)
	}
	if g.SDGDataNeeded, err = extract.Pairs(junction, fields.SDGLookup, fields.DataNeeded); err != nil {
		return nil, fmt.Errorf("%s: %w", RelSDGDataNeeded, err)
	}
	if g.CategorySDGDataNeeded, err = extract.Triplets(junction, fields.CategoryLookup, fields.SDGLookup, fields.DataNeeded); err != nil {
		return nil, fmt.Errorf("%s: %w", RelCategorySDGDataNeeded, err)
	}
	// theme_goal is keyed (theme, goal) while goal_sdg is keyed (goal, sdg).
	if g.ThemeGoal, err = extract.OwnLinks(goals, fields.GoalThemes, false); err != nil {
		return nil, fmt.Errorf("%s: %w", RelThemeGoal, err)
	}
	if g.GoalSDG, err = extract.OwnLinks(goals, fields.GoalSDGs, true); err != nil {
		return nil, fmt.Errorf("%s: %w", RelGoalSDG, err)
	}
	if g.KeyIndicatorDataNeeded, err = extract.Pairs(junction, fields.KeyIndicator, fields.DataNeeded); err != nil {
		return nil, fmt.Errorf("key indicator links: %w", err)
	}

	return g, nil
}

// Count returns the number of distinct edges in the relation.
func (g *Graph) Count(rel Relation) int {
	switch rel {
	case RelCategoryDataNeeded:
		return len(g.CategoryDataNeeded)
	case RelSDGDataNeeded:
		return len(g.SDGDataNeeded)
	case RelCategorySDGDataNeeded:
		return len(g.CategorySDGDataNeeded)
	case RelThemeGoal:
		return len(g.ThemeGoal)
	case RelGoalSDG:
		return len(g.GoalSDG)
	}
	return 0
}

// Pairs returns the sorted edges of a pair relation, or nil for the triplet
// relation.
func (g *Graph) Pairs(rel Relation) []extract.Pair {
	switch rel {
	case RelCategoryDataNeeded:
		return g.CategoryDataNeeded.Sorted()
	case RelSDGDataNeeded:
		return g.SDGDataNeeded.Sorted()
	case RelThemeGoal:
		return g.ThemeGoal.Sorted()
	case RelGoalSDG:
		return g.GoalSDG.Sorted()
	}
	return nil
}

// Triplets returns the sorted category/SDG/data-needed hyperedges.
func (g *Graph) Triplets() []extract.Triplet {
	return g.CategorySDGDataNeeded.Sorted()
}

// Edges is the flattened, sorted form of a Graph handed to the stores.
type Edges struct {
	Pairs    map[Relation][]extract.Pair
	Triplets []extract.Triplet
}

// Edges returns every relation in sorted order.
func (g *Graph) Edges() Edges {
	e := Edges{Pairs: make(map[Relation][]extract.Pair, len(Relations)-1)}
	for _, rel := range Relations {
		if rel.IsTriplet() {
			continue
		}
		e.Pairs[rel] = g.Pairs(rel)
	}
	e.Triplets = g.Triplets()
	return e
}
