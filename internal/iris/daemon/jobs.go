package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/impactbot/irissync/internal/health"
	"github.com/impactbot/irissync/internal/iris/db"
	isync "github.com/impactbot/irissync/internal/iris/sync"
)

// Job names.
const (
	JobFullSync    = "full_sync"
	JobDeltaSync   = "delta_sync"
	JobHealthCheck = "health_check"
)

// ErrUnhealthy is returned when a health check does not pass.
var ErrUnhealthy = errors.New("health check failed")

// Syncer is the part of the sync manager the daemon drives.
// *sync.Manager satisfies it.
type Syncer interface {
	Recover(ctx context.Context) (int, error)
	RunFull(ctx context.Context) (*isync.Result, error)
	RunDelta(ctx context.Context) (*isync.Result, error)
	RefreshViews(ctx context.Context) error
	LastSuccessful(ctx context.Context, typ db.SyncType) (*time.Time, error)
}

// Checker runs a composite health check. *health.Monitor satisfies it.
type Checker interface {
	Check(ctx context.Context) health.Result
}

// JobsConfig sets the cadence of the standard jobs.
type JobsConfig struct {
	FullSchedule   Schedule
	DeltaInterval  time.Duration
	HealthInterval time.Duration
}

// DefaultJobsConfig returns the production cadence: full sync daily at
// 02:00, delta sync hourly, health check every 30 minutes.
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		FullSchedule:   DailyAt(2, 0),
		DeltaInterval:  time.Hour,
		HealthInterval: 30 * time.Minute,
	}
}

// SyncJobs returns the full-sync, delta-sync and health-check jobs.
func SyncJobs(s Syncer, c Checker, cfg JobsConfig) []Job {
	defaults := DefaultJobsConfig()
	if cfg.FullSchedule == nil {
		cfg.FullSchedule = defaults.FullSchedule
	}
	if cfg.DeltaInterval <= 0 {
		cfg.DeltaInterval = defaults.DeltaInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaults.HealthInterval
	}

	return []Job{
		{
			Name:     JobFullSync,
			Schedule: cfg.FullSchedule,
			Run:      func(ctx context.Context) error { return FullSyncAndRefresh(ctx, s) },
		},
		{
			Name:     JobDeltaSync,
			Schedule: Every(cfg.DeltaInterval),
			Run:      func(ctx context.Context) error { return DeltaSyncAndRefresh(ctx, s) },
		},
		{
			Name:     JobHealthCheck,
			Schedule: Every(cfg.HealthInterval),
			Run:      func(ctx context.Context) error { return CheckHealth(ctx, c) },
		},
	}
}

// FullSyncAndRefresh runs a recorded full sync followed by a view refresh.
func FullSyncAndRefresh(ctx context.Context, s Syncer) error {
	if _, err := s.RunFull(ctx); err != nil {
		return err
	}
	return s.RefreshViews(ctx)
}

// DeltaSyncAndRefresh runs a recorded delta sync followed by a view refresh.
func DeltaSyncAndRefresh(ctx context.Context, s Syncer) error {
	if _, err := s.RunDelta(ctx); err != nil {
		return err
	}
	return s.RefreshViews(ctx)
}

// CheckHealth runs a health check and reports a failure as ErrUnhealthy.
func CheckHealth(ctx context.Context, c Checker) error {
	result := c.Check(ctx)
	if !result.Healthy {
		return fmt.Errorf("%w: %s", ErrUnhealthy, strings.Join(result.Failed(), ", "))
	}
	return nil
}

// StartupConfig controls the continuous-mode startup sequence.
type StartupConfig struct {
	// StaleAfter is the age beyond which the last full sync is redone at
	// startup (default: 24h)
	StaleAfter time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

// Startup prepares a continuous-mode process: it reconciles orphaned runs,
// requires the store and the API to be reachable, and runs a full sync plus
// view refresh when no full sync ever succeeded or the last one is stale.
//
// An unreachable dependency is returned wrapping ErrUnhealthy. A failed initial
// sync is logged and not returned; the scheduler retries on its cadence.
func Startup(ctx context.Context, s Syncer, c Checker, config *StartupConfig) error {
	if config == nil {
		config = &StartupConfig{}
	}
	staleAfter := config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	logger := config.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	if _, err := s.Recover(ctx); err != nil {
		return err
	}

	// A failed last run must not keep the service down; the next sync is
	// what clears it. Only connectivity blocks startup.
	var blocking []string
	for _, name := range c.Check(ctx).Failed() {
		if name == health.CheckLastRun {
			logger.Println("WARNING: last sync run failed")
			continue
		}
		blocking = append(blocking, name)
	}
	if len(blocking) > 0 {
		return fmt.Errorf("initial health check: %w: %s", ErrUnhealthy, strings.Join(blocking, ", "))
	}

	last, err := s.LastSuccessful(ctx, db.SyncFull)
	if err != nil {
		return err
	}
	if last != nil && now().Sub(*last) <= staleAfter {
		logger.Printf("Last full sync at %s, skipping initial sync", last.Format(time.RFC3339))
		return nil
	}

	logger.Println("Running initial full sync")
	if err := FullSyncAndRefresh(context.WithoutCancel(ctx), s); err != nil {
		logger.Printf("Initial full sync failed: %v", err)
	}
	return nil
}
