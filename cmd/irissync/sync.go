package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	isync "github.com/impactbot/irissync/internal/iris/sync"
	"github.com/impactbot/irissync/internal/ui"
)

var fullCmd = &cobra.Command{
	Use:     "full",
	GroupID: "sync",
	Short:   "Run a full sync and refresh the views",
	Long: `Fetch every table from Airtable, upsert all records, prune rows that no
longer exist at the source, rebuild the relationship edges and refresh the
aggregate views.

The run is recorded in sync_runs and becomes the baseline for delta syncs.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runOnce(func(ctx context.Context, m *isync.Manager) (*isync.Result, error) {
			return m.RunFull(ctx)
		})
	},
}

var deltaCmd = &cobra.Command{
	Use:     "delta",
	GroupID: "sync",
	Short:   "Run a delta sync and refresh the views",
	Long: `Fetch records modified since the last successful delta sync and upsert
them. With no previous delta sync every record is fetched.

--since overrides the stored cutoff. It accepts RFC3339 timestamps, dates
(2024-06-01) and relative expressions ("3 days ago", "last monday").

Examples:
  irissync delta
  irissync delta --since "2 hours ago"
  irissync delta --since 2024-06-01T00:00:00Z`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")

		var cutoff *time.Time
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			cutoff = &t
		}

		runOnce(func(ctx context.Context, m *isync.Manager) (*isync.Result, error) {
			if cutoff != nil {
				return m.RunDeltaSince(ctx, cutoff)
			}
			return m.RunDelta(ctx)
		})
	},
}

var viewsCmd = &cobra.Command{
	Use:     "views",
	GroupID: "sync",
	Short:   "Refresh the aggregate views",
	Long: `Recompute the aggregate views from the stored records and edges. No
Airtable access is needed.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		e := mustEnv()
		defer e.Close()
		e.mustOpen(ctx, false)

		if n, err := e.store.ReconcileOrphanedRuns(ctx, isync.OrphanedRunMessage); err != nil {
			fmt.Fprintf(os.Stderr, "Error recovering orphaned runs: %v\n", err)
			os.Exit(1)
		} else if n > 0 {
			fmt.Printf("%s Marked %d orphaned run(s) as failed\n", ui.RenderWarn("!"), n)
		}

		start := time.Now()
		if err := e.store.RefreshMaterializedViews(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error refreshing views: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Views refreshed in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	deltaCmd.Flags().String("since", "", "override the delta cutoff")

	rootCmd.AddCommand(fullCmd, deltaCmd, viewsCmd)
}

type syncFunc func(context.Context, *isync.Manager) (*isync.Result, error)

// runOnce runs one recorded sync followed by a view refresh, and exits
// non-zero if either fails.
func runOnce(run syncFunc) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustEnv()
	defer e.Close()
	e.mustOpen(ctx, true)

	manager, err := e.newManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	res, err := syncOnce(ctx, manager, run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderFail("✗"), err)
		os.Exit(1)
	}
	ui.RenderResult(os.Stdout, res)

	if err := manager.RefreshViews(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error refreshing views: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Views refreshed\n", ui.RenderPass("✓"))
}

// syncOnce fails runs orphaned by an earlier process before run reads any
// cutoff, then performs run.
func syncOnce(ctx context.Context, m *isync.Manager, run syncFunc) (*isync.Result, error) {
	if _, err := m.Recover(ctx); err != nil {
		return nil, err
	}
	return run(ctx, m)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
