// Package daemon provides the scheduler that drives continuous sync.
//
// # Jobs
//
// A Job pairs a name with a Schedule and a run function. SyncJobs builds the
// three standard jobs:
//
//   - full_sync: full sync + view refresh, daily (SYNC_SCHEDULE, "0 2 * * *")
//   - delta_sync: delta sync + view refresh, hourly
//   - health_check: composite health check, every 30 minutes
//
// # Schedules
//
// Every(d) fires at a fixed interval, DailyAt(h, m) once a day. ParseCron
// accepts the daily subset of cron syntax, "M H * * *":
//
//	s, err := daemon.ParseCron("0 2 * * *")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	next := s.Next(time.Now())
//
// # Run loop
//
// Run wakes every TickInterval and runs the due jobs one after another. A job
// error or panic is logged; after a tick in which any job failed the loop
// waits ErrorBackoff instead. Cancelling the context stops the loop between
// ticks. A job in progress runs to completion under a context detached from
// cancellation, so no run record is left in the running state by a signal.
//
// A job never overlaps itself. A scheduled activation that finds the job in
// flight is skipped; Trigger calls made while it runs wait for and share
// that execution (golang.org/x/sync/singleflight).
//
// # Startup
//
// Startup runs once before Run in continuous mode:
//
//  1. Recover marks runs orphaned by a crash as failed
//  2. the store and the Airtable API must be reachable
//  3. a full sync runs if none succeeded in the last 24 hours
//
// Typical wiring:
//
//	jobs := daemon.SyncJobs(manager, monitor, daemon.DefaultJobsConfig())
//	d, err := daemon.New(daemon.DefaultConfig(), jobs...)
//	if err != nil {
//	    return err
//	}
//	if err := daemon.Startup(ctx, manager, monitor, nil); err != nil {
//	    return err
//	}
//	return d.Run(ctx)
package daemon
