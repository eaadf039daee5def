// Package extract rebuilds normalized relationship edges from denormalized
// Airtable rows.
//
// A junction row in the taxonomy base exposes its ancestors through lookup
// fields: a single cell holds every category (or SDG) reachable through the
// chain of links above the row. The true many-to-many edges are recovered by
// taking the cross-product of a lookup sequence with the row's direct link
// sequence. Many rows realize the same logical edge, so results are sets
// keyed by tuple value.
package extract

import (
	"errors"
	"fmt"
	"sort"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/iris/schema"
)

// ErrNotRecordID is wrapped by every ValueError.
var ErrNotRecordID = errors.New("field value is not an airtable record id")

// ValueError reports a field value that cannot be used as an edge endpoint.
type ValueError struct {
	Record string
	Field  string
	Value  any
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("record %s field %q: value %v is not a record id", e.Record, e.Field, e.Value)
}

func (e *ValueError) Unwrap() error {
	return ErrNotRecordID
}

// Pair is one edge between two entities.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Triplet is one hyperedge between three entities.
type Triplet struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// PairSet is a set of pairs deduplicated by value.
type PairSet map[Pair]struct{}

// Add inserts the pair (a, b). Pairs with an empty component are ignored.
func (s PairSet) Add(a, b string) {
	if a == "" || b == "" {
		return
	}
	s[Pair{A: a, B: b}] = struct{}{}
}

// Has reports whether the pair (a, b) is in the set.
func (s PairSet) Has(a, b string) bool {
	_, ok := s[Pair{A: a, B: b}]
	return ok
}

// Sorted returns the pairs ordered by A then B.
func (s PairSet) Sorted() []Pair {
	out := make([]Pair, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// TripletSet is a set of triplets deduplicated by value.
type TripletSet map[Triplet]struct{}

// Add inserts the triplet (a, b, c). Triplets with an empty component are ignored.
func (s TripletSet) Add(a, b, c string) {
	if a == "" || b == "" || c == "" {
		return
	}
	s[Triplet{A: a, B: b, C: c}] = struct{}{}
}

// Has reports whether the triplet (a, b, c) is in the set.
func (s TripletSet) Has(a, b, c string) bool {
	_, ok := s[Triplet{A: a, B: b, C: c}]
	return ok
}

// Sorted returns the triplets ordered by A, B, then C.
func (s TripletSet) Sorted() []Triplet {
	out := make([]Triplet, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		if out[i].B != out[j].B {
			return out[i].B < out[j].B
		}
		return out[i].C < out[j].C
	})
	return out
}

// Pairs returns the cross-product of leftField and rightField over every
// record. A record where either field is empty contributes nothing.
func Pairs(records []airtable.Record, leftField, rightField string) (PairSet, error) {
	set := make(PairSet)
	for _, r := range records {
		left, err := IDs(r, leftField)
		if err != nil {
			return nil, err
		}
		right, err := IDs(r, rightField)
		if err != nil {
			return nil, err
		}
		for _, a := range left {
			for _, b := range right {
				set.Add(a, b)
			}
		}
	}
	return set, nil
}

// Triplets returns the three-way cross-product of aField, bField and cField
// over every record.
func Triplets(records []airtable.Record, aField, bField, cField string) (TripletSet, error) {
	set := make(TripletSet)
	for _, r := range records {
		as, err := IDs(r, aField)
		if err != nil {
			return nil, err
		}
		bs, err := IDs(r, bField)
		if err != nil {
			return nil, err
		}
		cs, err := IDs(r, cField)
		if err != nil {
			return nil, err
		}
		for _, a := range as {
			for _, b := range bs {
				for _, c := range cs {
					set.Add(a, b, c)
				}
			}
		}
	}
	return set, nil
}

// OwnLinks pairs each record's own ID with every ID in its linkField.
// With ownerFirst the pair is (record, linked); otherwise (linked, record).
func OwnLinks(records []airtable.Record, linkField string, ownerFirst bool) (PairSet, error) {
	set := make(PairSet)
	for _, r := range records {
		if !schema.IsRecordID(r.ID) {
			return nil, &ValueError{Record: r.ID, Field: "id", Value: r.ID}
		}
		linked, err := IDs(r, linkField)
		if err != nil {
			return nil, err
		}
		for _, id := range linked {
			if ownerFirst {
				set.Add(r.ID, id)
			} else {
				set.Add(id, r.ID)
			}
		}
	}
	return set, nil
}

// IDs returns the record IDs held in field, in cell order.
//
// A missing, nil or empty value yields no IDs. A single string is treated as
// a one-element sequence, and nested sequences are flattened. Every value
// must look like an Airtable record ID; a lookup configured to copy display
// names would otherwise merge distinct entities that share a name.
func IDs(r airtable.Record, field string) ([]string, error) {
	raw, ok := r.Fields[field]
	if !ok || raw == nil {
		return nil, nil
	}

	var ids []string
	var walk func(v any) error
	walk = func(v any) error {
		switch val := v.(type) {
		case nil:
			return nil
		case string:
			if val == "" {
				return nil
			}
			if !schema.IsRecordID(val) {
				return &ValueError{Record: r.ID, Field: field, Value: val}
			}
			ids = append(ids, val)
			return nil
		case []string:
			for _, s := range val {
				if err := walk(s); err != nil {
					return err
				}
			}
			return nil
		case []any:
			for _, item := range val {
				if err := walk(item); err != nil {
					return err
				}
			}
			return nil
		default:
			return &ValueError{Record: r.ID, Field: field, Value: val}
		}
	}

	if err := walk(raw); err != nil {
		return nil, err
	}
	return ids, nil
}
