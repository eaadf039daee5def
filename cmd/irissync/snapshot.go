package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/iris/snapshot"
	"github.com/impactbot/irissync/internal/ui"
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot <dir>",
	GroupID: "inspect",
	Short:   "Fetch every table and write it to a snapshot directory",
	Long: `Fetch all taxonomy tables from Airtable and write them to <dir>, one JSONL
file per table (categories.jsonl, goals.jsonl, ...).

The snapshot can be analyzed offline with 'irissync analyze --from <dir>'.
Nothing is written to the store.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := args[0]
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		ctx, cancel := signalContext()
		defer cancel()

		e := mustEnv()
		defer e.Close()
		if err := e.openClient(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		start := time.Now()
		tables, err := graph.FetchTables(ctx, e.client, e.registry, concurrency)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching tables: %v\n", err)
			os.Exit(1)
		}
		res, err := snapshot.Write(dir, e.registry, tables)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing snapshot: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Snapshot written in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Tables: %d\n", res.Tables)
		fmt.Printf("   Records: %d\n", res.Records)
		fmt.Printf("   Directory: %s\n", dir)
	},
}

func init() {
	snapshotCmd.Flags().Int("concurrency", graph.DefaultConcurrency, "parallel table fetches")

	rootCmd.AddCommand(snapshotCmd)
}
