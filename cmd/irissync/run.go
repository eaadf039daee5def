package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/impactbot/irissync/internal/health"
	"github.com/impactbot/irissync/internal/iris/daemon"
	"github.com/impactbot/irissync/internal/iris/dashboard"
	isync "github.com/impactbot/irissync/internal/iris/sync"
)

// runContinuous is the root command: startup sequence, then the scheduler
// loop until SIGINT or SIGTERM.
func runContinuous(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	e := mustEnv()
	defer e.Close()
	e.mustOpen(ctx, true)

	logger := e.logs.Logger("irissync")
	cfg := e.cfg

	fullSchedule, err := daemon.ParseCron(cfg.SyncSchedule)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid SYNC_SCHEDULE: %v\n", err)
		os.Exit(1)
	}

	var (
		observers   []isync.Observer
		healthHooks []func(health.Result)
		server      *dashboard.Server
		monitor     *health.Monitor
	)
	if cfg.DashboardPort > 0 {
		var handler *dashboard.Handler
		server = dashboard.NewServer(&dashboard.Config{
			Port:    cfg.DashboardPort,
			Metrics: e.metrics.Handler(),
			Health:  func() (health.Result, bool) { return monitor.Last() },
			Status:  func() any { return handler.Status() },
			Logger:  e.logs.Logger("dashboard"),
		})
		handler = dashboard.NewHandler(server, e.logs.Logger("dashboard"))
		observers = append(observers, handler)
		healthHooks = append(healthHooks, handler.OnHealth)
	}

	manager, err := e.newManager(observers...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	monitor, err = newMonitor(e, healthHooks...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if server != nil {
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = server.Stop() }()
	}

	if err := daemon.Startup(ctx, manager, monitor, &daemon.StartupConfig{Logger: logger}); err != nil {
		logger.Printf("Startup failed: %v", err)
		os.Exit(1)
	}

	d, err := daemon.New(&daemon.Config{
		TickInterval: cfg.TickInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		Logger:       e.logs.Logger("daemon"),
	}, daemon.SyncJobs(manager, monitor, daemon.JobsConfig{
		FullSchedule:   fullSchedule,
		DeltaInterval:  cfg.DeltaInterval,
		HealthInterval: cfg.HealthInterval,
	})...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger.Printf("Scheduler started: full %s, delta every %v, health every %v",
		cfg.SyncSchedule, cfg.DeltaInterval, cfg.HealthInterval)
	if err := d.Run(ctx); err != nil {
		logger.Printf("Scheduler stopped: %v", err)
		os.Exit(1)
	}
	logger.Println("Shutting down")
}
