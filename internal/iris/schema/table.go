package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies the entity type stored in a table.
type Kind string

const (
	KindCategory      Kind = "category"
	KindTheme         Kind = "theme"
	KindGoal          Kind = "goal"
	KindKeyDimension  Kind = "key_dimension"
	KindCoreMetricSet Kind = "core_metric_set"
	KindKeyIndicator  Kind = "key_indicator"
	KindDataNeeded    Kind = "data_needed"
	KindSDG           Kind = "sdg"

	// KindJunction marks a table whose rows only link other entities.
	KindJunction Kind = "junction"
)

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindCategory, KindTheme, KindGoal, KindKeyDimension, KindCoreMetricSet,
		KindKeyIndicator, KindDataNeeded, KindSDG, KindJunction:
		return true
	}
	return false
}

// Logical table names. These are stable across bases; the Airtable table IDs
// are not.
const (
	TableCategories      = "categories"
	TableThemes          = "themes"
	TableGoals           = "goals"
	TableKeyDimensions   = "key_dimensions"
	TableCoreMetricSets  = "core_metric_sets"
	TableKeyIndicators   = "key_indicators"
	TableDataNeeded      = "data_needed"
	TableSDGs            = "sdgs"
	TableJunctKeyDims    = "junct_key_dims"
	TableJunctCoreSets   = "junct_core_sets"
	TableJunctIndicators = "junct_indicators"
	TableJunctDataNeeded = "junct_data_needed"
)

// DefaultBaseID is the Airtable base holding the IRIS+ framework.
const DefaultBaseID = "app8JW20fqXYI2uRw"

// Table describes one Airtable table in the taxonomy.
type Table struct {
	Name string `yaml:"name" toml:"name"`
	ID   string `yaml:"id" toml:"id"`
	Kind Kind   `yaml:"kind" toml:"kind"`
}

// IsJunction reports whether the table only carries links.
func (t Table) IsJunction() bool {
	return t.Kind == KindJunction
}

var tableIDPattern = regexp.MustCompile(`^tbl[A-Za-z0-9]{14}$`)

// Validate checks the table has a name, a well-formed Airtable ID and a known kind.
func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is required")
	}
	if !tableIDPattern.MatchString(t.ID) {
		return fmt.Errorf("table %s: invalid airtable table id %q", t.Name, t.ID)
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("table %s: invalid kind %q", t.Name, t.Kind)
	}
	return nil
}

// Registry is the ordered set of tables that make up the taxonomy.
// Primary entity tables come first, junction tables last.
type Registry struct {
	BaseID string  `yaml:"base_id" toml:"base_id"`
	Tables []Table `yaml:"tables" toml:"tables"`
	Fields Fields  `yaml:"fields" toml:"fields"`
}

// DefaultRegistry returns the production table layout.
func DefaultRegistry() *Registry {
	return &Registry{
		BaseID: DefaultBaseID,
		Tables: []Table{
			{Name: TableCategories, ID: "tblGJJAlxAJqqMa0O", Kind: KindCategory},
			{Name: TableThemes, ID: "tblVLKZJ9gtCjFssF", Kind: KindTheme},
			{Name: TableGoals, ID: "tblhZTqXzvdtNdx2Q", Kind: KindGoal},
			{Name: TableKeyDimensions, ID: "tblCsxfdKz8XiCett", Kind: KindKeyDimension},
			{Name: TableCoreMetricSets, ID: "tblHyNTZm0O2t11tv", Kind: KindCoreMetricSet},
			{Name: TableKeyIndicators, ID: "tbl52YZbJ4f3F8UVl", Kind: KindKeyIndicator},
			{Name: TableDataNeeded, ID: "tbloXZVEl7AhPUVwd", Kind: KindDataNeeded},
			{Name: TableSDGs, ID: "tblU47hC5t4WmieS7", Kind: KindSDG},
			{Name: TableJunctKeyDims, ID: "tblrlsaQ5FloYOkqt", Kind: KindJunction},
			{Name: TableJunctCoreSets, ID: "tbltUqeIhuO1xc1Lb", Kind: KindJunction},
			{Name: TableJunctIndicators, ID: "tblWoYYYJjTQ3xttD", Kind: KindJunction},
			{Name: TableJunctDataNeeded, ID: "tblyCxOkCo3esnHBg", Kind: KindJunction},
		},
		Fields: DefaultFields(),
	}
}

// requiredTables must be present in every registry; the graph assembler
// reads from them directly.
var requiredTables = []string{TableGoals, TableJunctDataNeeded}

// Validate checks every table and that names and IDs are unique.
func (r *Registry) Validate() error {
	if strings.TrimSpace(r.BaseID) == "" {
		return fmt.Errorf("base_id is required")
	}
	if len(r.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}

	names := make(map[string]struct{}, len(r.Tables))
	ids := make(map[string]struct{}, len(r.Tables))
	for i, t := range r.Tables {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		if _, dup := names[t.Name]; dup {
			return fmt.Errorf("duplicate table name: %s", t.Name)
		}
		if _, dup := ids[t.ID]; dup {
			return fmt.Errorf("duplicate table id: %s", t.ID)
		}
		names[t.Name] = struct{}{}
		ids[t.ID] = struct{}{}
	}

	for _, name := range requiredTables {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("required table missing: %s", name)
		}
	}

	return r.Fields.Validate()
}

// Table returns the table with the given logical name.
func (r *Registry) Table(name string) (Table, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Names returns the logical table names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		names = append(names, t.Name)
	}
	return names
}
