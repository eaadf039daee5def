// Package db provides the embedded SQLite store for irissync.
//
// The store holds three kinds of data:
//   - records: every synchronized Airtable row, keyed by record id, with its
//     fields as JSON and a content hash used to count updates
//   - edge tables: the normalized relationship graph rebuilt after each sync
//     (category_data_needed, sdg_data_needed, category_sdg_data_needed,
//     theme_goal, goal_sdg)
//   - sync_runs: the append-only audit log of sync attempts
//
// SQLite has no materialized views, so aggregate views are plain tables
// rebuilt inside one transaction by RefreshMaterializedViews.
//
// Architecture:
//   - Database file: data/irissync.db (DATABASE_URL=file:<path>)
//   - WAL mode: concurrent readers (dashboard, health) during a sync
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string

	// now is replaced in tests
	now func() time.Time
}

// Open creates a new database connection at the specified path.
//
// A "file:" prefix is accepted and stripped. The parent directory is
// created when missing. The schema is NOT created; call InitSchema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open("data/irissync.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout is per connection, so it goes in the DSN for the whole pool
	conn, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// HealthCheck verifies the database answers queries.
func (db *DB) HealthCheck(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database is closed")
	}
	var one int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("failed to query database: %w", err)
	}
	return nil
}

const schemaSQL = `
-- Synchronized Airtable rows
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	fields TEXT NOT NULL,        -- JSON object
	content_hash TEXT NOT NULL,  -- sha256 of fields
	created_time TEXT,
	synced_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_table ON records(table_name);

-- Normalized relationship graph
CREATE TABLE IF NOT EXISTS category_data_needed (
	category_id TEXT NOT NULL,
	data_needed_id TEXT NOT NULL,
	PRIMARY KEY (category_id, data_needed_id)
);

CREATE TABLE IF NOT EXISTS sdg_data_needed (
	sdg_id TEXT NOT NULL,
	data_needed_id TEXT NOT NULL,
	PRIMARY KEY (sdg_id, data_needed_id)
);

CREATE TABLE IF NOT EXISTS category_sdg_data_needed (
	category_id TEXT NOT NULL,
	sdg_id TEXT NOT NULL,
	data_needed_id TEXT NOT NULL,
	PRIMARY KEY (category_id, sdg_id, data_needed_id)
);

CREATE TABLE IF NOT EXISTS theme_goal (
	theme_id TEXT NOT NULL,
	goal_id TEXT NOT NULL,
	PRIMARY KEY (theme_id, goal_id)
);

CREATE TABLE IF NOT EXISTS goal_sdg (
	goal_id TEXT NOT NULL,
	sdg_id TEXT NOT NULL,
	PRIMARY KEY (goal_id, sdg_id)
);

CREATE INDEX IF NOT EXISTS idx_cdn_data ON category_data_needed(data_needed_id);
CREATE INDEX IF NOT EXISTS idx_sdn_data ON sdg_data_needed(data_needed_id);
CREATE INDEX IF NOT EXISTS idx_goal_sdg_sdg ON goal_sdg(sdg_id);

-- Sync audit log
CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	sync_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	started_at TEXT NOT NULL,
	completed_at TEXT,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_created INTEGER NOT NULL DEFAULT 0,
	records_updated INTEGER NOT NULL DEFAULT 0,
	records_deleted INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_last_success
	ON sync_runs(sync_type, status, completed_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);

-- Aggregate views, rebuilt by RefreshMaterializedViews
CREATE TABLE IF NOT EXISTS mv_category_coverage (
	category_id TEXT PRIMARY KEY,
	data_needed_count INTEGER NOT NULL,
	sdg_count INTEGER NOT NULL,
	refreshed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mv_sdg_coverage (
	sdg_id TEXT PRIMARY KEY,
	data_needed_count INTEGER NOT NULL,
	goal_count INTEGER NOT NULL,
	refreshed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mv_goal_summary (
	goal_id TEXT PRIMARY KEY,
	theme_count INTEGER NOT NULL,
	sdg_count INTEGER NOT NULL,
	refreshed_at TEXT NOT NULL
);
`

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}
