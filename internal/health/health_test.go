package health

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/impactbot/irissync/internal/iris/db"
)

type fakeStore struct {
	pingErr error
	lastRun *db.SyncRun
	lastErr error
}

func (s *fakeStore) HealthCheck(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) GetLastSyncStatus(ctx context.Context) (*db.SyncRun, error) {
	return s.lastRun, s.lastErr
}

type fakePinger struct {
	err   error
	panic bool
	table string
}

func (p *fakePinger) Ping(ctx context.Context, tableID string) error {
	p.table = tableID
	if p.panic {
		panic("nil transport")
	}
	return p.err
}

func newTestMonitor(t *testing.T, store Store, api Pinger, hooks ...func(Result)) *Monitor {
	t.Helper()
	m, err := New(store, api, &Config{
		TableID:  "tblGJJAlxAJqqMa0O",
		OnResult: hooks,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return m
}

func run(status db.RunStatus, msg string) *db.SyncRun {
	r := &db.SyncRun{ID: "run-1", Type: db.SyncDelta, Status: status, StartedAt: time.Now()}
	if msg != "" {
		r.Error = &msg
	}
	return r
}

func TestMonitor_Check(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeStore
		api        *fakePinger
		wantHealth bool
		wantFailed string
	}{
		{
			name:       "all healthy",
			store:      &fakeStore{lastRun: run(db.StatusSucceeded, "")},
			api:        &fakePinger{},
			wantHealth: true,
		},
		{
			name:       "no runs yet",
			store:      &fakeStore{},
			api:        &fakePinger{},
			wantHealth: true,
		},
		{
			name:       "running run is healthy",
			store:      &fakeStore{lastRun: run(db.StatusRunning, "")},
			api:        &fakePinger{},
			wantHealth: true,
		},
		{
			name:       "database unreachable",
			store:      &fakeStore{pingErr: errors.New("database is locked")},
			api:        &fakePinger{},
			wantFailed: CheckDatabase,
		},
		{
			name:       "airtable unreachable",
			store:      &fakeStore{},
			api:        &fakePinger{err: errors.New("status 401")},
			wantFailed: CheckAirtable,
		},
		{
			name:       "airtable panics",
			store:      &fakeStore{},
			api:        &fakePinger{panic: true},
			wantFailed: CheckAirtable,
		},
		{
			name:       "last run failed",
			store:      &fakeStore{lastRun: run(db.StatusFailed, "fetching table goals: status 503")},
			api:        &fakePinger{},
			wantFailed: CheckLastRun,
		},
		{
			name:       "last run unreadable",
			store:      &fakeStore{lastErr: errors.New("no such table: sync_runs")},
			api:        &fakePinger{},
			wantFailed: CheckLastRun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(t, tt.store, tt.api)
			result := m.Check(context.Background())

			if result.Healthy != tt.wantHealth {
				t.Errorf("Healthy = %v, want %v (checks %+v)", result.Healthy, tt.wantHealth, result.Checks)
			}
			if len(result.Checks) != 3 {
				t.Fatalf("got %d checks, want 3", len(result.Checks))
			}
			failed := strings.Join(result.Failed(), ",")
			if failed != tt.wantFailed {
				t.Errorf("Failed() = %q, want %q", failed, tt.wantFailed)
			}
			if tt.api.table != "tblGJJAlxAJqqMa0O" {
				t.Errorf("pinged table %q", tt.api.table)
			}
		})
	}
}

func TestMonitor_FailedRunMessage(t *testing.T) {
	store := &fakeStore{lastRun: run(db.StatusFailed, "boom")}
	m := newTestMonitor(t, store, &fakePinger{})

	result := m.Check(context.Background())
	c := result.Checks[2]
	if !strings.Contains(c.Error, "delta sync run-1 failed: boom") {
		t.Errorf("Error = %q", c.Error)
	}
	if result.LastRun == nil || result.LastRun.ID != "run-1" {
		t.Errorf("LastRun = %+v", result.LastRun)
	}
}

func TestMonitor_LastAndHooks(t *testing.T) {
	var seen []bool
	m := newTestMonitor(t, &fakeStore{}, &fakePinger{}, func(r Result) { seen = append(seen, r.Healthy) })

	if _, ok := m.Last(); ok {
		t.Error("Last() reported a result before any check")
	}

	m.Check(context.Background())
	last, ok := m.Last()
	if !ok || !last.Healthy {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
	if len(seen) != 1 || !seen[0] {
		t.Errorf("hooks saw %v", seen)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, &fakePinger{}, &Config{TableID: "tbl"}); err == nil {
		t.Error("New(nil store) succeeded")
	}
	if _, err := New(&fakeStore{}, nil, &Config{TableID: "tbl"}); err == nil {
		t.Error("New(nil api) succeeded")
	}
	if _, err := New(&fakeStore{}, &fakePinger{}, nil); err == nil {
		t.Error("New(no table) succeeded")
	}
}
