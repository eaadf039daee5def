package graph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/iris/schema"
)

// Fetcher reads every record of one table.
type Fetcher interface {
	FetchAll(ctx context.Context, tableID string) ([]airtable.Record, error)
}

// DefaultConcurrency bounds parallel table fetches. Airtable allows five
// requests per second per base.
const DefaultConcurrency = 4

// FetchTables fetches every table in the registry with at most concurrency
// fetches in flight. The first failure cancels the rest and is returned;
// no partial result is returned.
func FetchTables(ctx context.Context, f Fetcher, reg *schema.Registry, concurrency int) (Tables, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	tables := make(Tables, len(reg.Tables))

	for _, t := range reg.Tables {
		g.Go(func() error {
			records, err := f.FetchAll(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", t.Name, err)
			}
			mu.Lock()
			tables[t.Name] = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}
