package db

import (
	"context"
	"fmt"

	"github.com/impactbot/irissync/internal/iris/schema"
)

// View tables rebuilt by RefreshMaterializedViews.
var Views = []string{"mv_category_coverage", "mv_sdg_coverage", "mv_goal_summary"}

// RefreshMaterializedViews recomputes the aggregate view tables from the
// records and edge tables.
//
// Every view is cleared and rebuilt inside one transaction, so readers see
// either the old or the new aggregates. Running it twice in a row yields
// the same contents.
func (db *DB) RefreshMaterializedViews(ctx context.Context) error {
	// Start transaction
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, view := range Views {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+view); err != nil {
			return fmt.Errorf("failed to clear %s: %w", view, err)
		}
	}

	refreshedAt := formatTime(db.now())

	steps := []struct {
		view  string
		query string
		table string
	}{
		{
			view: "mv_category_coverage",
			query: `
			INSERT INTO mv_category_coverage (category_id, data_needed_count, sdg_count, refreshed_at)
			SELECT r.id,
			       (SELECT COUNT(*) FROM category_data_needed e WHERE e.category_id = r.id),
			       (SELECT COUNT(DISTINCT t.sdg_id) FROM category_sdg_data_needed t WHERE t.category_id = r.id),
			       ?
			FROM records r
			WHERE r.table_name = ?
			`,
			table: schema.TableCategories,
		},
		{
			view: "mv_sdg_coverage",
			query: `
			INSERT INTO mv_sdg_coverage (sdg_id, data_needed_count, goal_count, refreshed_at)
			SELECT r.id,
			       (SELECT COUNT(*) FROM sdg_data_needed e WHERE e.sdg_id = r.id),
			       (SELECT COUNT(*) FROM goal_sdg g WHERE g.sdg_id = r.id),
			       ?
			FROM records r
			WHERE r.table_name = ?
			`,
			table: schema.TableSDGs,
		},
		{
			view: "mv_goal_summary",
			query: `
			INSERT INTO mv_goal_summary (goal_id, theme_count, sdg_count, refreshed_at)
			SELECT r.id,
			       (SELECT COUNT(*) FROM theme_goal t WHERE t.goal_id = r.id),
			       (SELECT COUNT(*) FROM goal_sdg g WHERE g.goal_id = r.id),
			       ?
			FROM records r
			WHERE r.table_name = ?
			`,
			table: schema.TableGoals,
		},
	}

	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, refreshedAt, step.table); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", step.view, err)
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CategoryCoverage is one row of mv_category_coverage.
type CategoryCoverage struct {
	CategoryID      string `json:"category_id"`
	DataNeededCount int    `json:"data_needed_count"`
	SDGCount        int    `json:"sdg_count"`
}

// GetCategoryCoverage reads mv_category_coverage ordered by category id.
func (db *DB) GetCategoryCoverage(ctx context.Context) ([]CategoryCoverage, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT category_id, data_needed_count, sdg_count
	FROM mv_category_coverage
	ORDER BY category_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query category coverage: %w", err)
	}
	defer rows.Close()

	var out []CategoryCoverage
	for rows.Next() {
		var c CategoryCoverage
		if err := rows.Scan(&c.CategoryID, &c.DataNeededCount, &c.SDGCount); err != nil {
			return nil, fmt.Errorf("failed to scan category coverage: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category coverage: %w", err)
	}
	return out, nil
}
