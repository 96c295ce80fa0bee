package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/ral/pkg/ral"
)

// setupTestStore creates a migrated store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func createRun(t *testing.T, store *SQLiteStore, id string, started time.Time) *Run {
	t.Helper()
	run := &Run{
		ID:        id,
		Manifest:  "site.cue",
		Target:    "local",
		Status:    RunStatusRunning,
		StartedAt: started,
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// A second migration finds nothing to do.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "changes", "events", "resource_state"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-time.Minute)
	createRun(t, store, "run-1", start)

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != RunStatusRunning || run.CompletedAt != nil || run.Noop {
		t.Errorf("unexpected run %+v", run)
	}
	if !run.StartedAt.Equal(start.UTC()) {
		t.Errorf("started_at = %v, want %v", run.StartedAt, start)
	}

	msg := "host web failed"
	if err := store.FinishRun(ctx, "run-1", RunStatusFailed, &msg); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}
	run, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunStatusFailed || run.CompletedAt == nil || run.Error == nil || *run.Error != msg {
		t.Errorf("unexpected finished run %+v", run)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.FinishRun(ctx, "missing", RunStatusCompleted, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		createRun(t, store, id, base.Add(time.Duration(i)*time.Second))
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("unexpected runs %v", runs)
	}
	runs, err = store.ListRuns(ctx, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "a" {
		t.Errorf("unexpected second page %v", runs)
	}
}

func TestRecordUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createRun(t, store, "run-1", time.Now())

	upd := ral.NewUpdate(
		ral.NewResource("web", ral.Attrs{"ensure": "absent"}),
		ral.NewResource("web", ral.Attrs{"ensure": "present", "ip": "10.0.0.1", "host_aliases": []any{"www"}}),
	)
	upd.Record(ral.Change{Attr: "ensure", Is: "present", Was: "absent"})
	upd.Record(ral.Change{Attr: "host_aliases", Is: []any{"www"}})
	if err := store.RecordUpdate(ctx, "run-1", "host", upd); err != nil {
		t.Fatalf("failed to record update: %v", err)
	}
	// Updates without changes record nothing.
	if err := store.RecordUpdate(ctx, "run-1", "host", ral.NewUpdate(ral.NewResource("db", nil), ral.NewResource("db", nil))); err != nil {
		t.Fatal(err)
	}

	changes, err := store.ListChanges(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	c := changes[0]
	if c.ResourceType != "host" || c.ResourceName != "web" || c.Attr != "ensure" || *c.Is != `"present"` || *c.Was != `"absent"` {
		t.Errorf("unexpected change %+v", c)
	}
	if c := changes[1]; *c.Is != `["www"]` || c.Was != nil {
		t.Errorf("unexpected change %+v", c)
	}

	if err := store.RecordUpdate(ctx, "no-such-run", "host", upd); err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createRun(t, store, "run-1", time.Now())

	runID := "run-1"
	typ, name := "host", "web"
	events := []*Event{
		{RunID: &runID, Level: EventLevelInfo, Message: "apply started"},
		{RunID: &runID, Level: EventLevelError, ResourceType: &typ, ResourceName: &name, Message: "denied: no public addresses"},
		{Level: EventLevelWarning, Message: "journal pruned"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	got, err := store.GetEvents(ctx, &runID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 2 || got[0].Message != "apply started" {
		t.Errorf("unexpected run events %v", got)
	}

	level := EventLevelError
	got, err = store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || *got[0].ResourceName != "web" {
		t.Errorf("unexpected error events %v", got)
	}

	got, err = store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2].RunID != nil {
		t.Errorf("unexpected events %v", got)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createRun(t, store, "run-1", time.Now())

	runID := "run-1"
	if err := store.AppendEvent(ctx, &Event{RunID: &runID, Level: EventLevelInfo, Message: "x"}); err != nil {
		t.Fatal(err)
	}
	upd := ral.NewUpdate(ral.NewResource("web", nil), ral.NewResource("web", ral.Attrs{"ip": "10.0.0.1"}))
	upd.Record(ral.Change{Attr: "ip", Is: "10.0.0.1"})
	if err := store.RecordUpdate(ctx, "run-1", "host", upd); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if changes, _ := store.ListChanges(ctx, "run-1"); len(changes) != 0 {
		t.Errorf("expected changes to be deleted, got %d", len(changes))
	}
	if events, _ := store.GetEvents(ctx, &runID, nil, 10, 0); len(events) != 0 {
		t.Errorf("expected events to be deleted, got %d", len(events))
	}
	if err := store.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResourceState(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetResourceState(ctx, "host", "web"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	res := ral.NewResource("web", ral.Attrs{"ensure": "present", "ip": "10.0.0.1"})
	first, err := store.UpsertResourceState(ctx, "run-1", "host", res)
	if err != nil {
		t.Fatalf("failed to upsert state: %v", err)
	}
	if len(first.Hash) != 64 {
		t.Errorf("unexpected hash %q", first.Hash)
	}

	res.Attrs["ip"] = "10.0.0.2"
	second, err := store.UpsertResourceState(ctx, "run-2", "host", res)
	if err != nil {
		t.Fatal(err)
	}
	if second.Hash == first.Hash {
		t.Error("expected hash to change with the state")
	}

	got, err := store.GetResourceState(ctx, "host", "web")
	if err != nil {
		t.Fatalf("failed to get state: %v", err)
	}
	if got.LastRunID != "run-2" || got.Hash != second.Hash {
		t.Errorf("unexpected state %+v", got)
	}
	decoded, err := got.Resource()
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Equal(res) {
		t.Errorf("decoded %v, want %v", decoded, res)
	}
}
