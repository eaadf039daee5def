package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config holds configuration for the daemon.
type Config struct {
	// TickInterval is how long the loop sleeps between ticks
	TickInterval time.Duration

	// ErrorBackoff replaces TickInterval after a tick in which a job failed
	ErrorBackoff time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TickInterval: 60 * time.Second,
		ErrorBackoff: 5 * time.Minute,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

type entry struct {
	job     Job
	next    time.Time
	running atomic.Bool
}

// Daemon runs jobs on their schedules from a single loop.
//
// Due jobs run sequentially within a tick. A job never overlaps itself: a
// scheduled activation that finds the job in flight is skipped, and
// concurrent Trigger calls share one execution.
type Daemon struct {
	config *Config
	jobs   []*entry
	byName map[string]*entry
	group  singleflight.Group

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a daemon for the given jobs.
func New(config *Config, jobs ...Job) (*Daemon, error) {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	d := &Daemon{
		config: config,
		byName: make(map[string]*entry, len(jobs)),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, j := range jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("job name cannot be empty")
		}
		if j.Schedule == nil || j.Run == nil {
			return nil, fmt.Errorf("job %s: schedule and run are required", j.Name)
		}
		if _, dup := d.byName[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job: %s", j.Name)
		}
		e := &entry{job: j}
		d.jobs = append(d.jobs, e)
		d.byName[j.Name] = e
	}
	return d, nil
}

// Run executes the scheduler loop until ctx is cancelled.
//
// Cancellation is observed between ticks only. Jobs run with a context
// detached from ctx, so a sync in progress always reaches its terminal state.
// Job errors and panics are logged and never stop the loop.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Printf("Starting scheduler with %d job(s)", len(d.jobs))

	start := d.now()
	for _, e := range d.jobs {
		e.next = e.job.Schedule.Next(start)
		d.config.Logger.Printf("Job %s (%v) next due %s", e.job.Name, e.job.Schedule, e.next.Format(time.RFC3339))
	}

	for {
		if ctx.Err() != nil {
			break
		}

		wait := d.config.TickInterval
		if err := d.safeTick(context.WithoutCancel(ctx)); err != nil {
			d.config.Logger.Printf("Scheduler error: %v (retrying in %v)", err, d.config.ErrorBackoff)
			wait = d.config.ErrorBackoff
		}

		if err := d.sleep(ctx, wait); err != nil {
			break
		}
	}

	d.config.Logger.Println("Shutdown signal received, scheduler stopped")
	return nil
}

// safeTick runs one tick, turning a panic outside any job into an error.
func (d *Daemon) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduler tick: %v", r)
		}
	}()
	return d.Tick(ctx)
}

// Tick runs every job that is due, in registration order, and schedules its
// next activation. The returned error joins the errors of every failed job.
func (d *Daemon) Tick(ctx context.Context) error {
	now := d.now()

	var errs []error
	for _, e := range d.jobs {
		if e.next.IsZero() {
			e.next = e.job.Schedule.Next(now)
			continue
		}
		if now.Before(e.next) {
			continue
		}

		ran, err := d.runJob(ctx, e, false)
		e.next = e.job.Schedule.Next(now)
		if !ran {
			d.config.Logger.Printf("Skipping %s: still running", e.job.Name)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Trigger runs the named job now, outside its schedule. If the job is
// already running, Trigger waits for that execution and returns its result.
func (d *Daemon) Trigger(ctx context.Context, name string) error {
	e, ok := d.byName[name]
	if !ok {
		return fmt.Errorf("unknown job: %s", name)
	}
	_, err := d.runJob(context.WithoutCancel(ctx), e, true)
	return err
}

// runJob executes a job under single-flight. With join unset, an activation
// that finds the job in flight returns ran=false without waiting.
func (d *Daemon) runJob(ctx context.Context, e *entry, join bool) (ran bool, err error) {
	if !join && e.running.Load() {
		return false, nil
	}

	_, err, _ = d.group.Do(e.job.Name, func() (any, error) {
		e.running.Store(true)
		defer e.running.Store(false)
		return nil, d.safeRun(ctx, e.job)
	})
	return true, err
}

// safeRun executes the job, recovering panics so the loop survives.
func (d *Daemon) safeRun(ctx context.Context, j Job) (err error) {
	start := d.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			d.config.Logger.Printf("Job %s failed after %v: %v", j.Name, d.now().Sub(start), err)
		}
	}()

	d.config.Logger.Printf("Running job %s", j.Name)
	return j.Run(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
