package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/iris/snapshot"
	"github.com/impactbot/irissync/internal/ui"
)

var analyzeCmd = &cobra.Command{
	Use:     "analyze",
	GroupID: "inspect",
	Short:   "Fetch every table and print the relationship report",
	Long: `Fetch all taxonomy tables from Airtable, reconstruct the relationship graph
and print per-table row counts and per-relation edge counts.

Nothing is written to the store. With --from the tables are read from a
snapshot directory written by 'irissync snapshot' and no token is needed.

Examples:
  irissync analyze
  irissync analyze --json
  irissync analyze --from snapshots/2024-06-01`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		from, _ := cmd.Flags().GetString("from")

		ctx, cancel := signalContext()
		defer cancel()

		e := mustEnv()
		defer e.Close()
		var fetcher graph.Fetcher
		if from != "" {
			src, err := snapshot.NewSource(from, e.registry)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fetcher = src
		} else {
			if err := e.openClient(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fetcher = e.client
		}

		start := time.Now()
		tables, err := graph.FetchTables(ctx, fetcher, e.registry, concurrency)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching tables: %v\n", err)
			os.Exit(1)
		}
		report, err := graph.BuildReport(e.registry, tables)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building report: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
			return
		}

		ui.RenderReport(os.Stdout, report)
		fmt.Printf("%s Analyzed %d tables in %v\n", ui.RenderPass("✓"), len(tables), time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	analyzeCmd.Flags().Bool("json", false, "output the report as JSON")
	analyzeCmd.Flags().String("from", "", "read tables from a snapshot directory")
	analyzeCmd.Flags().Int("concurrency", graph.DefaultConcurrency, "parallel table fetches")

	rootCmd.AddCommand(analyzeCmd)
}
