package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/impactbot/irissync/internal/health"
	"github.com/impactbot/irissync/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: "inspect",
	Short:   "Check the store, the Airtable API and the last sync run",
	Long: `Run the composite health check once and exit 0 when healthy, 1 otherwise.

Checks:
  - database: the store answers queries
  - airtable: the first registry table can be read
  - last_run: the newest sync run did not fail`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx, cancel := signalContext()
		defer cancel()

		e := mustEnv()
		defer e.Close()
		e.mustOpen(ctx, true)

		monitor, err := newMonitor(e)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		result := monitor.Check(ctx)
		if jsonOutput {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
		} else {
			ui.RenderHealth(os.Stdout, result)
		}
		if !result.Healthy {
			os.Exit(1)
		}
	},
}

func init() {
	healthCmd.Flags().Bool("json", false, "output the result as JSON")

	rootCmd.AddCommand(healthCmd)
}

// newMonitor pings the first registry table and records every result in
// the metrics.
func newMonitor(e *env, hooks ...func(health.Result)) (*health.Monitor, error) {
	return health.New(e.store, e.client, &health.Config{
		TableID:  e.registry.Tables[0].ID,
		OnResult: append([]func(health.Result){e.metrics.ObserveHealth}, hooks...),
		Logger:   e.logs.Logger("health"),
	})
}
