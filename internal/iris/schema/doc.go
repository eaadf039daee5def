// Package schema defines the fixed IRIS+ taxonomy that irissync extracts
// from Airtable.
//
// # Overview
//
// The taxonomy is stored in Airtable as eight primary entity tables and four
// junction tables. The junction tables carry the many-to-many links and also
// re-expose ancestor entities through lookup fields that span several joins:
//
//	Category → Theme → Strategic Goal → Key Dimension → Core Metric Set
//	    → Key Indicator → Data Needed
//	SDG → Strategic Goal → ... → Data Needed
//
// This package names those tables (Registry), the fields the extractor reads
// (Fields), and the identifier format every edge endpoint must satisfy
// (IsRecordID).
//
// # Table maps
//
// The defaults match the production base. A deployment can override them
// with a YAML or TOML table map:
//
//	base_id: app8JW20fqXYI2uRw
//	tables:
//	  - name: categories
//	    id: tblGJJAlxAJqqMa0O
//	    kind: category
//	fields:
//	  goal_themes: IRIS Impact Themes
//
// Load the map with LoadFile; the file extension selects the decoder.
package schema
