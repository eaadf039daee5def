package main

import (
	"context"
	"fmt"
	"os"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/config"
	"github.com/impactbot/irissync/internal/iris/db"
	"github.com/impactbot/irissync/internal/iris/pg"
	"github.com/impactbot/irissync/internal/iris/schema"
	isync "github.com/impactbot/irissync/internal/iris/sync"
	"github.com/impactbot/irissync/internal/logging"
	"github.com/impactbot/irissync/internal/metrics"
)

// store is what every mode needs from either backend.
type store interface {
	isync.Store
	Close() error
}

// env holds the pieces shared by the commands. Fields are filled in on
// demand by the open* methods.
type env struct {
	cfg      *config.Config
	logs     *logging.Output
	registry *schema.Registry
	metrics  *metrics.Collector

	store  store
	client *airtable.Client
}

// mustEnv loads the configuration and log output or exits.
func mustEnv() *env {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	reg, err := cfg.Registry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading taxonomy: %v\n", err)
		os.Exit(1)
	}
	logs, err := logging.Open(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		os.Exit(1)
	}
	return &env{cfg: cfg, logs: logs, registry: reg, metrics: metrics.New()}
}

// openStore opens the store selected by DATABASE_URL and creates its schema.
func (e *env) openStore(ctx context.Context) error {
	if e.cfg.IsPostgres() {
		s, err := pg.New(ctx, e.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return err
		}
		e.store = s
		return nil
	}

	d, err := db.Open(e.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := d.InitSchemaContext(ctx); err != nil {
		_ = d.Close()
		return err
	}
	e.store = d
	return nil
}

// openClient creates the Airtable client. Page counts feed the metrics.
func (e *env) openClient() error {
	if err := e.cfg.RequireToken(); err != nil {
		return err
	}
	retries := e.cfg.AirtableMaxRetries
	if retries == 0 {
		retries = -1
	}
	client, err := airtable.New(&airtable.Config{
		BaseURL:    e.cfg.AirtableAPIURL,
		BaseID:     e.registry.BaseID,
		Token:      e.cfg.AirtableToken,
		PageSize:   e.cfg.AirtablePageSize,
		MaxRetries: retries,
		OnPage:     e.metrics.ObservePage,
		Logger:     e.logs.Logger("airtable"),
	})
	if err != nil {
		return err
	}
	e.client = client
	return nil
}

// newManager creates the sync manager over the open store and client.
func (e *env) newManager(observers ...isync.Observer) (*isync.Manager, error) {
	mode, err := isync.ParseDeltaMode(e.cfg.DeltaMode)
	if err != nil {
		return nil, err
	}
	return isync.New(e.store, e.client, &isync.Config{
		Registry:  e.registry,
		DeltaMode: mode,
		Observers: append([]isync.Observer{e.metrics}, observers...),
		Logger:    e.logs.Logger("sync"),
	})
}

// mustOpen opens the store and, when withClient is set, the Airtable client.
func (e *env) mustOpen(ctx context.Context, withClient bool) {
	if withClient {
		if err := e.openClient(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if err := e.openStore(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
}

func (e *env) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	_ = e.logs.Close()
}
