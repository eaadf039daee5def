package airtable

import (
	"time"
)

// Record is one row of an Airtable table.
//
// Fields holds values exactly as the API returned them after JSON decoding:
// strings, float64 numbers, bools, []any for link and lookup fields, and
// map[string]any for attachments and similar objects.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// page is the wire shape of a list-records response.
type page struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// ModifiedAt returns the record's last-modified time read from field, or its
// creation time when the field is missing or unparseable.
func (r Record) ModifiedAt(field string) time.Time {
	if field != "" {
		if raw, ok := r.Fields[field].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				return t
			}
		}
	}
	return r.CreatedTime
}

// FilterModifiedSince returns the records modified at or after since.
//
// This is the client-side fallback for bases where LAST_MODIFIED_TIME() is
// unavailable to filterByFormula. It needs a full fetch, so it is strictly
// more expensive than FetchModifiedSince but returns the same set.
func FilterModifiedSince(records []Record, field string, since time.Time) []Record {
	filtered := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.ModifiedAt(field).Before(since) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
