package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/impactbot/irissync/internal/graph"
	"github.com/impactbot/irissync/internal/health"
	isync "github.com/impactbot/irissync/internal/iris/sync"
)

// RenderReport writes the per-table and per-relation counts of an analysis.
func RenderReport(w io.Writer, r *graph.Report) {
	fmt.Fprintf(w, "\n%s\n\n", RenderHeader("Tables"))
	for _, t := range r.Tables {
		name := t.Name
		if t.Junction {
			name += " " + RenderMuted("(junction)")
		}
		fmt.Fprintf(w, "  %-9d %s\n", t.Records, name)
	}

	fmt.Fprintf(w, "\n%s\n\n", RenderHeader("Relations"))
	for _, rc := range r.Relations {
		fmt.Fprintf(w, "  %-9d %s\n", rc.Edges, rc.Relation)
	}
	fmt.Fprintf(w, "\n  %s %d junct_data_needed rows\n", RenderAccent("→"), r.JunctionRows)
	fmt.Fprintf(w, "  %s %d key indicator links\n\n", RenderAccent("→"), r.KeyIndicatorLinks)
}

// RenderResult writes a one-run summary.
func RenderResult(w io.Writer, res *isync.Result) {
	fmt.Fprintf(w, "%s %s sync complete in %v\n", RenderPass("✓"), res.Type.Short(), res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "   Run: %s\n", res.RunID)
	if res.Cutoff != nil {
		fmt.Fprintf(w, "   Since: %s\n", res.Cutoff.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "   Records: %d (created %d, updated %d, deleted %d)\n",
		res.Counts.Total, res.Counts.Created, res.Counts.Updated, res.Counts.Deleted)
}

// RenderHealth writes each sub-check of a health result.
func RenderHealth(w io.Writer, r health.Result) {
	verdict := RenderPass("healthy")
	if !r.Healthy {
		verdict = RenderFail("unhealthy")
	}
	fmt.Fprintf(w, "\n%s %s\n\n", RenderHeader("Health:"), verdict)
	for _, c := range r.Checks {
		line := fmt.Sprintf("  %s %s", Status(c.OK), c.Name)
		if c.Error != "" {
			line += ": " + RenderMuted(c.Error)
		}
		fmt.Fprintln(w, line)
	}
	if r.LastRun != nil {
		run := r.LastRun
		fmt.Fprintf(w, "\n  Last run: %s %s (%s, started %s)\n",
			run.Type.Short(), run.Status, run.ID, run.StartedAt.UTC().Format(time.RFC3339))
	}
	if failed := r.Failed(); len(failed) > 0 {
		fmt.Fprintf(w, "\n  %s failing: %s\n", RenderWarn("⚠"), strings.Join(failed, ", "))
	}
	fmt.Fprintln(w)
}
