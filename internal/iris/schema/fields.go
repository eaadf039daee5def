package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Default field names as they appear in the production base. The two long
// names are Airtable lookup fields that walk the junction chain back up to
// the category and SDG tables.
const (
	DefaultCategoryLookupField = "IRIS Impact Category (from Impact Category <> Impact Theme) (from IRIS Impact Themes) (from IRIS Strategic Goals) (from <> IRIS Key Dimensions) (from <> IRIS Core Metric Set) (from <> IRIS Key Indicator)"
	DefaultSDGLookupField      = "SDG (from IRIS Strategic Goals) (from <> IRIS Key Dimensions) (from <> IRIS Core Metric Set) (from <> IRIS Key Indicator)"
	DefaultDataNeededField     = "IRIS Data Needed"
	DefaultKeyIndicatorField   = "<> IRIS Key Indicator"
	DefaultGoalThemesField     = "IRIS Impact Themes"
	DefaultGoalSDGField        = "SDG"
	DefaultLastModifiedField   = "Last Modified"
)

// Fields names the Airtable fields read during relationship extraction.
type Fields struct {
	// CategoryLookup is the lookup field on the data-needed junction that
	// exposes the categories reachable through six joins.
	CategoryLookup string `yaml:"category_lookup" toml:"category_lookup"`

	// SDGLookup is the lookup field on the data-needed junction that exposes
	// the SDGs reachable through four joins.
	SDGLookup string `yaml:"sdg_lookup" toml:"sdg_lookup"`

	// DataNeeded is the direct link from the junction row to data-needed items.
	DataNeeded string `yaml:"data_needed" toml:"data_needed"`

	// KeyIndicator is the direct link from the junction row to its key-indicator junction row.
	KeyIndicator string `yaml:"key_indicator" toml:"key_indicator"`

	// GoalThemes and GoalSDGs are link fields on the goals table.
	GoalThemes string `yaml:"goal_themes" toml:"goal_themes"`
	GoalSDGs   string `yaml:"goal_sdgs" toml:"goal_sdgs"`

	// LastModified is the last-modified-time field used for client-side delta filtering.
	LastModified string `yaml:"last_modified" toml:"last_modified"`
}

// DefaultFields returns the field names used by the production base.
func DefaultFields() Fields {
	return Fields{
		CategoryLookup: DefaultCategoryLookupField,
		SDGLookup:      DefaultSDGLookupField,
		DataNeeded:     DefaultDataNeededField,
		KeyIndicator:   DefaultKeyIndicatorField,
		GoalThemes:     DefaultGoalThemesField,
		GoalSDGs:       DefaultGoalSDGField,
		LastModified:   DefaultLastModifiedField,
	}
}

// WithDefaults fills any empty field name from DefaultFields.
func (f Fields) WithDefaults() Fields {
	d := DefaultFields()
	if f.CategoryLookup == "" {
		f.CategoryLookup = d.CategoryLookup
	}
	if f.SDGLookup == "" {
		f.SDGLookup = d.SDGLookup
	}
	if f.DataNeeded == "" {
		f.DataNeeded = d.DataNeeded
	}
	if f.KeyIndicator == "" {
		f.KeyIndicator = d.KeyIndicator
	}
	if f.GoalThemes == "" {
		f.GoalThemes = d.GoalThemes
	}
	if f.GoalSDGs == "" {
		f.GoalSDGs = d.GoalSDGs
	}
	if f.LastModified == "" {
		f.LastModified = d.LastModified
	}
	return f
}

// Validate checks that every field the extractor needs is named.
func (f Fields) Validate() error {
	required := map[string]string{
		"category_lookup": f.CategoryLookup,
		"sdg_lookup":      f.SDGLookup,
		"data_needed":     f.DataNeeded,
		"goal_themes":     f.GoalThemes,
		"goal_sdgs":       f.GoalSDGs,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("field %s is required", key)
		}
	}
	return nil
}

var recordIDPattern = regexp.MustCompile(`^rec[A-Za-z0-9]{14}$`)

// IsRecordID reports whether s has the shape of an Airtable record ID.
//
// Lookup fields can be configured in Airtable to copy display names instead
// of record IDs. Names are not unique, so an edge keyed by name would merge
// distinct entities. Every edge endpoint is checked with IsRecordID before use.
func IsRecordID(s string) bool {
	return recordIDPattern.MatchString(s)
}
