// Package snapshot stores fetched Airtable tables as JSONL files, one file
// per table and one record per line.
//
// A snapshot directory can stand in for the Airtable API: Source reads it
// through the same FetchAll/FetchModifiedSince contract as the client, so
// the relationship report can be rebuilt offline.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/iris/schema"
)

// Result contains statistics about a written snapshot.
type Result struct {
	Tables  int `json:"tables"`
	Records int `json:"records"`
}

// FileName returns the file holding a table's records.
func FileName(table string) string {
	return table + ".jsonl"
}

// Write writes every registry table present in tables to dir. Each file is
// written via a temp file and renamed into place, so a reader never sees a
// partial table.
func Write(dir string, reg *schema.Registry, tables graph.Tables) (*Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	result := &Result{}
	for _, t := range reg.Tables {
		records, ok := tables[t.Name]
		if !ok {
			continue
		}
		if err := writeTable(filepath.Join(dir, FileName(t.Name)), records); err != nil {
			return result, fmt.Errorf("failed to write table %s: %w", t.Name, err)
		}
		result.Tables++
		result.Records += len(records)
	}
	return result, nil
}

func writeTable(path string, records []airtable.Record) error {
	tmpPath := path + ".tmp"
	// #nosec G304 - path built from the snapshot directory
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ReadTable reads one table file.
func ReadTable(path string) ([]airtable.Record, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []airtable.Record
	dec := json.NewDecoder(f)
	for line := 1; ; line++ {
		var r airtable.Record
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d of %s: %w", line, filepath.Base(path), err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Read loads every registry table from dir. A missing table file is an
// error.
func Read(dir string, reg *schema.Registry) (graph.Tables, error) {
	tables := make(graph.Tables, len(reg.Tables))
	for _, t := range reg.Tables {
		records, err := ReadTable(filepath.Join(dir, FileName(t.Name)))
		if err != nil {
			return nil, fmt.Errorf("failed to read table %s: %w", t.Name, err)
		}
		tables[t.Name] = records
	}
	return tables, nil
}

// Source serves a snapshot directory by Airtable table ID.
type Source struct {
	dir          string
	names        map[string]string
	lastModified string
}

// NewSource creates a Source for dir. The directory must exist.
func NewSource(dir string, reg *schema.Registry) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot path %s is not a directory", dir)
	}

	names := make(map[string]string, len(reg.Tables))
	for _, t := range reg.Tables {
		names[t.ID] = t.Name
	}
	return &Source{dir: dir, names: names, lastModified: reg.Fields.LastModified}, nil
}

func (s *Source) path(tableID string) (string, error) {
	name, ok := s.names[tableID]
	if !ok {
		return "", fmt.Errorf("unknown table id %s", tableID)
	}
	return filepath.Join(s.dir, FileName(name)), nil
}

// FetchAll returns every record of the table.
func (s *Source) FetchAll(ctx context.Context, tableID string) ([]airtable.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(tableID)
	if err != nil {
		return nil, err
	}
	return ReadTable(path)
}

// FetchModifiedSince returns the records modified at or after since, read
// from the registry's last-modified field.
func (s *Source) FetchModifiedSince(ctx context.Context, tableID string, since time.Time) ([]airtable.Record, error) {
	records, err := s.FetchAll(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return airtable.FilterModifiedSince(records, s.lastModified, since), nil
}

// Ping checks that the table file exists.
func (s *Source) Ping(ctx context.Context, tableID string) error {
	path, err := s.path(tableID)
	if err != nil {
		return err
	}
	_, err = os.Stat(path)
	return err
}
