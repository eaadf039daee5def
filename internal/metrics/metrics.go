// Package metrics exposes sync activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/impactbot/irissync/internal/health"
	"github.com/impactbot/irissync/internal/iris/db"
	isync "github.com/impactbot/irissync/internal/iris/sync"
)

const namespace = "irissync"

// Collector owns a private registry with every irissync metric.
//
// It implements sync.Observer, and ObservePage matches the airtable
// Config.OnPage hook.
type Collector struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	records       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
	pages         *prometheus.CounterVec
	pageRecords   *prometheus.CounterVec
	viewRefreshes prometheus.Counter
	health        prometheus.Gauge
	healthChecks  *prometheus.GaugeVec
}

// New creates a Collector. Go runtime and process metrics are included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Finished sync runs by type and terminal status.",
		}, []string{"type", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records reconciled by successful runs, by type and outcome (total, created, updated, deleted).",
		}, []string{"type", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of finished sync runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"type"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run by type.",
		}, []string{"type"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pages_total",
			Help:      "Airtable pages received by table.",
		}, []string{"table"}),
		pageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "records_total",
			Help:      "Airtable records received by table.",
		}, []string{"table"}),
		viewRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "views",
			Name:      "refreshes_total",
			Help:      "Materialized view refreshes.",
		}),
		health: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "1 when the last health check passed, 0 otherwise.",
		}),
		healthChecks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_status",
			Help:      "Outcome of each health sub-check in the last health check.",
		}, []string{"check"}),
	}

	c.registry.MustRegister(
		c.runs, c.records, c.duration, c.lastSuccess,
		c.pages, c.pageRecords, c.viewRefreshes,
		c.health, c.healthChecks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe records a sync lifecycle event.
func (c *Collector) Observe(e isync.Event) {
	typ := e.SyncType.Short()

	switch e.Type {
	case isync.EventCompleted:
		c.runs.WithLabelValues(typ, string(db.StatusSucceeded)).Inc()
		c.duration.WithLabelValues(typ).Observe(e.Duration.Seconds())
		c.lastSuccess.WithLabelValues(typ).Set(float64(e.Time.Unix()))
		c.records.WithLabelValues(typ, "total").Add(float64(e.Counts.Total))
		c.records.WithLabelValues(typ, "created").Add(float64(e.Counts.Created))
		c.records.WithLabelValues(typ, "updated").Add(float64(e.Counts.Updated))
		c.records.WithLabelValues(typ, "deleted").Add(float64(e.Counts.Deleted))
	case isync.EventFailed:
		c.runs.WithLabelValues(typ, string(db.StatusFailed)).Inc()
		c.duration.WithLabelValues(typ).Observe(e.Duration.Seconds())
	case isync.EventViewsRefreshed:
		c.viewRefreshes.Inc()
	}
}

// ObservePage records one Airtable page.
func (c *Collector) ObservePage(table string, records int) {
	c.pages.WithLabelValues(table).Inc()
	c.pageRecords.WithLabelValues(table).Add(float64(records))
}

// ObserveHealth records a health check result.
func (c *Collector) ObserveHealth(r health.Result) {
	c.health.Set(boolFloat(r.Healthy))
	for _, check := range r.Checks {
		c.healthChecks.WithLabelValues(check.Name).Set(boolFloat(check.OK))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
