package graph

import (
	"github.com/impactbot/irissync/internal/iris/schema"
)

// RelationCount is the cardinality of one deduplicated relation.
type RelationCount struct {
	Relation Relation `json:"relation"`
	Edges    int      `json:"edges"`
}

// TableCount is the raw row count of one fetched table.
type TableCount struct {
	Name     string `json:"name"`
	Records  int    `json:"records"`
	Junction bool   `json:"junction"`
}

// Report summarizes a fetched base: per-relation edge counts and per-table
// row counts. It is enough to check an external schema's expected junction
// table sizes.
type Report struct {
	Relations []RelationCount `json:"relations"`
	Tables    []TableCount    `json:"tables"`

	// JunctionRows is the row count of the data-needed junction table, the
	// source of the three lookup-derived relations.
	JunctionRows int `json:"junction_rows"`

	// KeyIndicatorLinks counts distinct (key-indicator junction row,
	// data-needed) pairs. A junction row without the key-indicator link
	// adds nothing.
	KeyIndicatorLinks int `json:"key_indicator_links"`
}

// BuildReport assembles the graph and counts it. The result depends only on
// its inputs; tables are listed in registry order and relations in the
// order of Relations.
func BuildReport(reg *schema.Registry, tables Tables) (*Report, error) {
	g, err := Assemble(tables, reg.Fields)
	if err != nil {
		return nil, err
	}
	return NewReport(reg, tables, g), nil
}

// NewReport counts an already assembled graph.
func NewReport(reg *schema.Registry, tables Tables, g *Graph) *Report {
	r := &Report{
		Relations:         make([]RelationCount, 0, len(Relations)),
		Tables:            make([]TableCount, 0, len(reg.Tables)),
		JunctionRows:      len(tables[schema.TableJunctDataNeeded]),
		KeyIndicatorLinks: len(g.KeyIndicatorDataNeeded),
	}
	for _, rel := range Relations {
		r.Relations = append(r.Relations, RelationCount{Relation: rel, Edges: g.Count(rel)})
	}
	for _, t := range reg.Tables {
		r.Tables = append(r.Tables, TableCount{
			Name:     t.Name,
			Records:  len(tables[t.Name]),
			Junction: t.IsJunction(),
		})
	}
	return r
}

// Edges returns the edge count of rel, or 0 when it is not in the report.
func (r *Report) Edges(rel Relation) int {
	for _, rc := range r.Relations {
		if rc.Relation == rel {
			return rc.Edges
		}
	}
	return 0
}
