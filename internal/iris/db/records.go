package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/graph"
)

// EncodeFields returns the canonical JSON encoding of a record's fields and
// its sha256 hex digest. Map keys are encoded in sorted order, so equal
// field sets always hash equally.
func EncodeFields(fields map[string]any) (string, string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode fields: %w", err)
	}
	sum := sha256.Sum256(data)
	return string(data), hex.EncodeToString(sum[:]), nil
}

// UpsertRecords writes the records of one table, last write wins per
// record id, and counts how many were new and how many changed.
//
// With prune set, persisted rows of the table that are absent from records
// are deleted. Only a full fetch may prune.
func (db *DB) UpsertRecords(ctx context.Context, table string, records []airtable.Record, prune bool) (Counts, error) {
	counts := Counts{Total: len(records)}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := loadHashes(ctx, tx, table)
	if err != nil {
		return Counts{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO records (id, table_name, fields, content_hash, created_time, synced_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		table_name = excluded.table_name,
		fields = excluded.fields,
		content_hash = excluded.content_hash,
		created_time = excluded.created_time,
		synced_at = excluded.synced_at
	`)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	syncedAt := formatTime(db.now())
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		fields, hash, err := EncodeFields(r.Fields)
		if err != nil {
			return Counts{}, fmt.Errorf("record %s: %w", r.ID, err)
		}

		// A record repeated within one batch counts once.
		if _, dup := seen[r.ID]; !dup {
			prev, ok := existing[r.ID]
			switch {
			case !ok:
				counts.Created++
			case prev != hash:
				counts.Updated++
			}
		}
		seen[r.ID] = struct{}{}
		existing[r.ID] = hash

		var created sql.NullString
		if !r.CreatedTime.IsZero() {
			created = sql.NullString{String: formatTime(r.CreatedTime), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.ID, table, fields, hash, created, syncedAt); err != nil {
			return Counts{}, fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
		}
	}

	if prune {
		for id := range existing {
			if _, ok := seen[id]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ? AND table_name = ?`, id, table); err != nil {
				return Counts{}, fmt.Errorf("failed to delete record %s: %w", id, err)
			}
			counts.Deleted++
		}
	}

	if err := tx.Commit(); err != nil {
		return Counts{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return counts, nil
}

func loadHashes(ctx context.Context, tx *sql.Tx, table string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, content_hash FROM records WHERE table_name = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load record hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan record hash: %w", err)
		}
		hashes[id] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record hashes: %w", err)
	}
	return hashes, nil
}

// LoadRecords returns every persisted record grouped by table name, each
// table ordered by record id.
func (db *DB) LoadRecords(ctx context.Context) (graph.Tables, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, table_name, fields, created_time FROM records
	ORDER BY table_name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	tables := make(graph.Tables)
	for rows.Next() {
		var id, table, fields string
		var created sql.NullString
		if err := rows.Scan(&id, &table, &fields, &created); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		r, err := decodeRecord(id, fields)
		if err != nil {
			return nil, err
		}
		if t := nullStringToTime(created); t != nil {
			r.CreatedTime = *t
		}
		tables[table] = append(tables[table], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return tables, nil
}

// decodeRecord rebuilds a record from its persisted JSON fields.
func decodeRecord(id, fields string) (airtable.Record, error) {
	r := airtable.Record{ID: id}
	if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
		return airtable.Record{}, fmt.Errorf("failed to decode fields of %s: %w", id, err)
	}
	return r, nil
}

// CountRecords returns the number of persisted records of a table, or of
// all tables when table is empty.
func (db *DB) CountRecords(ctx context.Context, table string) (int, error) {
	query := `SELECT COUNT(*) FROM records`
	var args []any
	if table != "" {
		query += ` WHERE table_name = ?`
		args = append(args, table)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// ReplaceEdges replaces the contents of every edge table in one transaction.
func (db *DB) ReplaceEdges(ctx context.Context, edges graph.Edges) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rel := range graph.Relations {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+string(rel)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", rel, err)
		}

		cols := rel.Columns()
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			rel, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")))
		if err != nil {
			return fmt.Errorf("failed to prepare insert into %s: %w", rel, err)
		}

		if rel.IsTriplet() {
			for _, t := range edges.Triplets {
				if _, err := stmt.ExecContext(ctx, t.A, t.B, t.C); err != nil {
					stmt.Close()
					return fmt.Errorf("failed to insert into %s: %w", rel, err)
				}
			}
		} else {
			for _, p := range edges.Pairs[rel] {
				if _, err := stmt.ExecContext(ctx, p.A, p.B); err != nil {
					stmt.Close()
					return fmt.Errorf("failed to insert into %s: %w", rel, err)
				}
			}
		}
		stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountEdges returns the row count of one edge table.
func (db *DB) CountEdges(ctx context.Context, rel graph.Relation) (int, error) {
	if rel.Columns() == nil {
		return 0, errors.New("unknown relation: " + string(rel))
	}
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+string(rel)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", rel, err)
	}
	return count, nil
}
