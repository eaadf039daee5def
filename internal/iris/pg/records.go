package pg

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/iris/db"
)

// UpsertRecords writes the records of one table, last write wins per id.
// With prune set, persisted rows of the table absent from records are deleted.
func (s *Store) UpsertRecords(ctx context.Context, table string, records []airtable.Record, prune bool) (db.Counts, error) {
	counts := db.Counts{Total: len(records)}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return db.Counts{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existing := make(map[string]string)
	rows, err := tx.Query(ctx, `SELECT id, content_hash FROM records WHERE table_name = $1`, table)
	if err != nil {
		return db.Counts{}, fmt.Errorf("loading record hashes: %w", err)
	}
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			rows.Close()
			return db.Counts{}, fmt.Errorf("scanning record hash: %w", err)
		}
		existing[id] = hash
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return db.Counts{}, fmt.Errorf("loading record hashes: %w", err)
	}

	syncedAt := s.now().UTC()
	seen := make(map[string]struct{}, len(records))
	batch := &pgx.Batch{}
	for _, r := range records {
		fields, hash, err := db.EncodeFields(r.Fields)
		if err != nil {
			return db.Counts{}, fmt.Errorf("record %s: %w", r.ID, err)
		}
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

		var created *time.Time
		if !r.CreatedTime.IsZero() {
			t := r.CreatedTime.UTC()
			created = &t
		}
		batch.Queue(`
INSERT INTO records (id, table_name, fields, content_hash, created_time, synced_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    table_name = EXCLUDED.table_name,
    fields = EXCLUDED.fields,
    content_hash = EXCLUDED.content_hash,
    created_time = EXCLUDED.created_time,
    synced_at = EXCLUDED.synced_at`,
			r.ID, table, []byte(fields), hash, created, syncedAt)
	}

	if prune {
		var stale []string
		for id := range existing {
			if _, ok := seen[id]; !ok {
				stale = append(stale, id)
			}
		}
		if len(stale) > 0 {
			batch.Queue(`DELETE FROM records WHERE table_name = $1 AND id = ANY($2)`, table, stale)
			counts.Deleted = len(stale)
		}
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return db.Counts{}, fmt.Errorf("upserting records: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return db.Counts{}, fmt.Errorf("committing transaction: %w", err)
	}
	return counts, nil
}

// LoadRecords returns every persisted record grouped by table name.
func (s *Store) LoadRecords(ctx context.Context) (graph.Tables, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, table_name, fields, created_time FROM records
ORDER BY table_name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	tables := make(graph.Tables)
	for rows.Next() {
		var r airtable.Record
		var table string
		var fields []byte
		var created *time.Time
		if err := rows.Scan(&r.ID, &table, &fields, &created); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal(fields, &r.Fields); err != nil {
			return nil, fmt.Errorf("decoding fields of %s: %w", r.ID, err)
		}
		if created != nil {
			r.CreatedTime = created.UTC()
		}
		tables[table] = append(tables[table], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return tables, nil
}

// ReplaceEdges replaces every edge table in one transaction using COPY.
func (s *Store) ReplaceEdges(ctx context.Context, edges graph.Edges) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rel := range graph.Relations {
		if _, err := tx.Exec(ctx, "TRUNCATE "+string(rel)); err != nil {
			return fmt.Errorf("truncating %s: %w", rel, err)
		}

		var rows [][]any
		if rel.IsTriplet() {
			for _, t := range edges.Triplets {
				rows = append(rows, []any{t.A, t.B, t.C})
			}
		} else {
			for _, p := range edges.Pairs[rel] {
				rows = append(rows, []any{p.A, p.B})
			}
		}
		if len(rows) == 0 {
			continue
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{string(rel)}, rel.Columns(), pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copying into %s: %w", rel, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CountEdges returns the row count of one edge table.
func (s *Store) CountEdges(ctx context.Context, rel graph.Relation) (int, error) {
	if rel.Columns() == nil {
		return 0, fmt.Errorf("unknown relation: %s", rel)
	}
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{string(rel)}.Sanitize()).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", rel, err)
	}
	return count, nil
}

// RefreshMaterializedViews refreshes every aggregate view in one transaction.
func (s *Store) RefreshMaterializedViews(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, view := range db.Views {
		if _, err := tx.Exec(ctx, "REFRESH MATERIALIZED VIEW "+pgx.Identifier{view}.Sanitize()); err != nil {
			return fmt.Errorf("refreshing %s: %w", view, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
