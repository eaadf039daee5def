// Package pg is the PostgreSQL store for irissync.
//
// It keeps the same tables as the embedded SQLite store, but the aggregate
// views are real materialized views refreshed with REFRESH MATERIALIZED VIEW.
// Selected when DATABASE_URL is a postgres:// URL.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a pgx-backed relational store.
type Store struct {
	pool *pgxpool.Pool

	// now is replaced in tests
	now func() time.Time
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// HealthCheck verifies the server answers queries.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("querying postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates tables, indexes and materialized views when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	// All statements run in one implicit transaction; IF NOT EXISTS keeps
	// repeated runs harmless.
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS records (
    id           TEXT PRIMARY KEY,
    table_name   TEXT NOT NULL,
    fields       JSONB NOT NULL DEFAULT '{}',
    content_hash TEXT NOT NULL,
    created_time TIMESTAMPTZ,
    synced_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS category_data_needed (
    category_id    TEXT NOT NULL,
    data_needed_id TEXT NOT NULL,
    PRIMARY KEY (category_id, data_needed_id)
);

CREATE TABLE IF NOT EXISTS sdg_data_needed (
    sdg_id         TEXT NOT NULL,
    data_needed_id TEXT NOT NULL,
    PRIMARY KEY (sdg_id, data_needed_id)
);

CREATE TABLE IF NOT EXISTS category_sdg_data_needed (
    category_id    TEXT NOT NULL,
    sdg_id         TEXT NOT NULL,
    data_needed_id TEXT NOT NULL,
    PRIMARY KEY (category_id, sdg_id, data_needed_id)
);

CREATE TABLE IF NOT EXISTS theme_goal (
    theme_id TEXT NOT NULL,
    goal_id  TEXT NOT NULL,
    PRIMARY KEY (theme_id, goal_id)
);

CREATE TABLE IF NOT EXISTS goal_sdg (
    goal_id TEXT NOT NULL,
    sdg_id  TEXT NOT NULL,
    PRIMARY KEY (goal_id, sdg_id)
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id                UUID PRIMARY KEY,
    sync_type         TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'running',
    started_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ,
    records_processed INTEGER NOT NULL DEFAULT 0,
    records_created   INTEGER NOT NULL DEFAULT 0,
    records_updated   INTEGER NOT NULL DEFAULT 0,
    records_deleted   INTEGER NOT NULL DEFAULT 0,
    error             TEXT,
    CONSTRAINT chk_sync_status CHECK (status IN ('running', 'succeeded', 'failed'))
);

CREATE INDEX IF NOT EXISTS idx_records_table ON records (table_name);
CREATE INDEX IF NOT EXISTS idx_cdn_data ON category_data_needed (data_needed_id);
CREATE INDEX IF NOT EXISTS idx_sdn_data ON sdg_data_needed (data_needed_id);
CREATE INDEX IF NOT EXISTS idx_goal_sdg_sdg ON goal_sdg (sdg_id);
CREATE INDEX IF NOT EXISTS idx_sync_runs_last_success ON sync_runs (sync_type, status, completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_runs_running ON sync_runs (status) WHERE status = 'running';

CREATE MATERIALIZED VIEW IF NOT EXISTS mv_category_coverage AS
SELECT r.id AS category_id,
       (SELECT COUNT(*) FROM category_data_needed e WHERE e.category_id = r.id) AS data_needed_count,
       (SELECT COUNT(DISTINCT t.sdg_id) FROM category_sdg_data_needed t WHERE t.category_id = r.id) AS sdg_count,
       now() AS refreshed_at
FROM records r
WHERE r.table_name = 'categories';

CREATE MATERIALIZED VIEW IF NOT EXISTS mv_sdg_coverage AS
SELECT r.id AS sdg_id,
       (SELECT COUNT(*) FROM sdg_data_needed e WHERE e.sdg_id = r.id) AS data_needed_count,
       (SELECT COUNT(*) FROM goal_sdg g WHERE g.sdg_id = r.id) AS goal_count,
       now() AS refreshed_at
FROM records r
WHERE r.table_name = 'sdgs';

CREATE MATERIALIZED VIEW IF NOT EXISTS mv_goal_summary AS
SELECT r.id AS goal_id,
       (SELECT COUNT(*) FROM theme_goal t WHERE t.goal_id = r.id) AS theme_count,
       (SELECT COUNT(*) FROM goal_sdg g WHERE g.goal_id = r.id) AS sdg_count,
       now() AS refreshed_at
FROM records r
WHERE r.table_name = 'goals';
`
