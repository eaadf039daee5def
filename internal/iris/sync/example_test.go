package sync_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/iris/db"
	"github.com/impactbot/irissync/internal/iris/sync"
)

// This example demonstrates a one-shot full sync.
// Note: This is for documentation only and won't run as a test.
func ExampleManager_RunFull() {
	ctx := context.Background()

	// Open database
	store, err := db.Open("file:data/irissync.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		log.Fatal(err)
	}

	client, err := airtable.New(&airtable.Config{
		BaseID: "app8JW20fqXYI2uRw",
		Token:  os.Getenv("AIRTABLE_TOKEN"),
	})
	if err != nil {
		log.Fatal(err)
	}

	manager, err := sync.New(store, client, nil)
	if err != nil {
		log.Fatal(err)
	}

	// Reconcile runs left behind by a crash
	if _, err := manager.Recover(ctx); err != nil {
		log.Fatal(err)
	}

	result, err := manager.RunFull(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if err := manager.RefreshViews(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("run %s: %d records\n", result.RunID, result.Counts.Total)
}

// This example demonstrates subscribing to lifecycle events.
func ExampleObserverFunc() {
	observer := sync.ObserverFunc(func(e sync.Event) {
		if e.Type == sync.EventFailed {
			log.Printf("run %s failed: %s", e.RunID, e.Error)
		}
	})

	_ = &sync.Config{Observers: []sync.Observer{observer}}
}
