// Command irissync synchronizes the IRIS+ taxonomy from Airtable into a
// relational store.
//
// Without a subcommand it runs continuously: a full sync daily, a delta sync
// hourly and a health check every 30 minutes.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "irissync",
	Short: "Sync the IRIS+ taxonomy from Airtable into a relational store",
	Long: `irissync pulls the IRIS+ taxonomy tables from Airtable, reconstructs the
relationship graph from the junction tables' lookup fields, and writes both
into SQLite or PostgreSQL.

Run without a command to start the scheduler:
  - full sync + view refresh daily (SYNC_SCHEDULE, default 02:00)
  - delta sync + view refresh every DELTA_INTERVAL (default 1h)
  - health check every HEALTH_INTERVAL (default 30m)

Configuration is read from the environment and an optional --config file
(YAML, TOML or JSON). The environment wins.`,
	Args: cobra.NoArgs,
	Run:  runContinuous,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML, TOML or JSON)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
