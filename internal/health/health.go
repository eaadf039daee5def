// Package health composes the service health check.
//
// A check is healthy when the store answers a query, the Airtable API
// answers an authenticated request, and the newest sync run did not fail.
// Checks never write.
package health

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/impactbot/irissync/internal/iris/db"
)

// Check names, in evaluation order.
const (
	CheckDatabase = "database"
	CheckAirtable = "airtable"
	CheckLastRun  = "last_run"
)

// Store is the part of the relational store the monitor reads.
type Store interface {
	HealthCheck(ctx context.Context) error
	GetLastSyncStatus(ctx context.Context) (*db.SyncRun, error)
}

// Pinger verifies the remote API. *airtable.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context, tableID string) error
}

// Check is the outcome of one sub-check.
type Check struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a health check. Healthy is the conjunction of
// every sub-check.
type Result struct {
	Healthy   bool          `json:"healthy"`
	Checks    []Check       `json:"checks"`
	LastRun   *db.SyncRun   `json:"last_run,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Failed returns the names of the failing sub-checks.
func (r Result) Failed() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.OK {
			names = append(names, c.Name)
		}
	}
	return names
}

// Config holds configuration for the monitor.
type Config struct {
	// TableID is the table pinged to verify the API (typically the first
	// table of the registry)
	TableID string

	// Timeout bounds each sub-check (default: 30s)
	Timeout time.Duration

	// OnResult hooks receive every result, after it is recorded
	OnResult []func(Result)

	// Logger for check outcomes (default: stderr logger)
	Logger *log.Logger
}

// Monitor runs health checks and remembers the latest result.
type Monitor struct {
	store    Store
	api      Pinger
	tableID  string
	timeout  time.Duration
	onResult []func(Result)
	logger   *log.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last *Result
}

// New creates a Monitor.
func New(store Store, api Pinger, config *Config) (*Monitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if api == nil {
		return nil, fmt.Errorf("api cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}
	if config.TableID == "" {
		return nil, fmt.Errorf("table id is required")
	}

	m := &Monitor{
		store:    store,
		api:      api,
		tableID:  config.TableID,
		timeout:  config.Timeout,
		onResult: config.OnResult,
		logger:   config.Logger,
		now:      time.Now,
	}
	if m.timeout <= 0 {
		m.timeout = 30 * time.Second
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr, "[health] ", log.LstdFlags)
	}
	return m, nil
}

// Check runs every sub-check. Errors are folded into the result.
func (m *Monitor) Check(ctx context.Context) Result {
	start := m.now()
	result := Result{CheckedAt: start}

	result.Checks = append(result.Checks, m.run(ctx, CheckDatabase, m.store.HealthCheck))
	result.Checks = append(result.Checks, m.run(ctx, CheckAirtable, func(ctx context.Context) error {
		return m.api.Ping(ctx, m.tableID)
	}))
	result.Checks = append(result.Checks, m.run(ctx, CheckLastRun, func(ctx context.Context) error {
		run, err := m.store.GetLastSyncStatus(ctx)
		if err != nil {
			return err
		}
		result.LastRun = run
		if run != nil && run.Status == db.StatusFailed {
			msg := ""
			if run.Error != nil {
				msg = *run.Error
			}
			return fmt.Errorf("last %s sync %s failed: %s", run.Type.Short(), run.ID, msg)
		}
		return nil
	}))

	result.Healthy = true
	for _, c := range result.Checks {
		if !c.OK {
			result.Healthy = false
			m.logger.Printf("WARNING: %s check failed: %s", c.Name, c.Error)
		}
	}
	result.Duration = m.now().Sub(start)
	if result.Healthy {
		m.logger.Printf("Health check passed in %v", result.Duration)
	}

	m.mu.Lock()
	m.last = &result
	m.mu.Unlock()

	for _, fn := range m.onResult {
		fn(result)
	}
	return result
}

// run executes one sub-check, turning errors and panics into a failed Check.
func (m *Monitor) run(ctx context.Context, name string, fn func(context.Context) error) (c Check) {
	c.Name = name
	defer func() {
		if r := recover(); r != nil {
			c.OK = false
			c.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		c.Error = err.Error()
		return c
	}
	c.OK = true
	return c
}

// Last returns the most recent result, if any check has run.
func (m *Monitor) Last() (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}
