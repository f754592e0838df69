package calendar

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestOrchestrator(t *testing.T, store *Store, factory RemoteFactory) *Orchestrator {
	t.Helper()
	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Store:   store,
		Remotes: factory,
		Clock:   testClock,
	})
	if err != nil {
		t.Fatalf("failed to construct orchestrator: %v", err)
	}
	return orchestrator
}

func TestRunPullCreatesUnknownRemoteEvents(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1", "event-2"})
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	remote := &fakeRemote{snapshots: []RemoteSnapshot{
		{RemoteID: "remote-1", Title: "imported", Schedule: mustTimedSchedule(t, start, start.Add(time.Hour))},
		{RemoteID: "remote-2", Title: "also imported", Schedule: mustTimedSchedule(t, start.Add(time.Hour), start.Add(2*time.Hour))},
	}}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	window := mustWindow(t, start.Add(-time.Hour), start.Add(3*time.Hour))
	result := orchestrator.Run(context.Background(), "user-1", window, DirectionPull)
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Created != 2 || result.Updated != 0 {
		t.Fatalf("unexpected counts: created=%d updated=%d", result.Created, result.Updated)
	}

	imported, err := store.FindByRemoteID(context.Background(), "user-1", "remote-1")
	if err != nil {
		t.Fatalf("imported event missing: %v", err)
	}
	if imported.SyncStatus != StatusSynced {
		t.Fatalf("expected synced status, got %q", imported.SyncStatus)
	}
	if imported.Title != "imported" {
		t.Fatalf("unexpected title %q", imported.Title)
	}
}

func TestRunPullUpdatesMatchingEventInPlace(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1"})
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	existing := testEvent("stale title", start, start.Add(time.Hour))
	existing.RemoteID = "remote-1"
	existing.SyncStatus = StatusSynced
	created, err := store.Insert(ctx, "user-1", existing)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	remote := &fakeRemote{snapshots: []RemoteSnapshot{
		{RemoteID: "remote-1", Title: "fresh title", Schedule: mustTimedSchedule(t, start, start.Add(time.Hour))},
	}}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	window := mustWindow(t, start.Add(-time.Hour), start.Add(2*time.Hour))
	result := orchestrator.Run(ctx, "user-1", window, DirectionPull)
	if !result.Success || result.Updated != 1 || result.Created != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	var count int64
	if err := db.Model(&CalendarEvent{}).Where("user_id = ?", "user-1").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected no duplicate rows, got %d", count)
	}

	updated, err := store.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Title != "fresh title" {
		t.Fatalf("expected remote title, got %q", updated.Title)
	}
}

func TestRunPushCreatesRemoteAndAttaches(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1"})
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	created, err := store.Insert(ctx, "user-1", testEvent("outgoing", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	remote := &fakeRemote{}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	window := mustWindow(t, start.Add(-time.Hour), start.Add(2*time.Hour))
	result := orchestrator.Run(ctx, "user-1", window, DirectionPush)
	if !result.Success || result.Created != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(remote.created) != 1 {
		t.Fatalf("expected one remote create, got %d", len(remote.created))
	}

	pushed, err := store.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pushed.RemoteID == "" {
		t.Fatalf("expected remote id attached")
	}
	if pushed.SyncStatus != StatusSynced {
		t.Fatalf("expected synced status, got %q", pushed.SyncStatus)
	}
}

func TestRunPushUpdatesModifiedEvents(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1"})
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	event := testEvent("edited locally", start, start.Add(time.Hour))
	event.RemoteID = "remote-1"
	event.SyncStatus = StatusModified
	created, err := store.Insert(ctx, "user-1", event)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	remote := &fakeRemote{}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	window := mustWindow(t, start.Add(-time.Hour), start.Add(2*time.Hour))
	result := orchestrator.Run(ctx, "user-1", window, DirectionPush)
	if !result.Success || result.Updated != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(remote.updated) != 1 || remote.updated[0] != "remote-1" {
		t.Fatalf("expected one remote update for remote-1, got %v", remote.updated)
	}

	pushed, err := store.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if pushed.SyncStatus != StatusSynced {
		t.Fatalf("expected synced status, got %q", pushed.SyncStatus)
	}
}

func TestPushThenPullLeavesSingleSyncedRecord(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1"})
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	created, err := store.Insert(ctx, "user-1", testEvent("round trip", start, start.Add(time.Hour)))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	remote := &fakeRemote{}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})
	window := mustWindow(t, start.Add(-time.Hour), start.Add(2*time.Hour))

	if result := orchestrator.Run(ctx, "user-1", window, DirectionPush); !result.Success || result.Created != 1 {
		t.Fatalf("push failed: %+v", result)
	}

	pushed, err := store.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	// The remote now reports the event it just received.
	remote.snapshots = []RemoteSnapshot{{
		RemoteID: pushed.RemoteID,
		Title:    "round trip",
		Schedule: mustTimedSchedule(t, start, start.Add(time.Hour)),
	}}

	result := orchestrator.Run(ctx, "user-1", window, DirectionPull)
	if !result.Success || result.Created != 0 || result.Updated != 1 {
		t.Fatalf("pull must update in place: %+v", result)
	}

	var count int64
	if err := db.Model(&CalendarEvent{}).Where("user_id = ?", "user-1").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record after the round trip, got %d", count)
	}

	final, err := store.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if final.SyncStatus != StatusSynced || final.RemoteID != pushed.RemoteID {
		t.Fatalf("unexpected final state: %+v", final)
	}
}

func TestRunPushIsolatesPerItemFailures(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1", "event-2", "event-3"})
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "poison", "third"} {
		offset := time.Duration(i) * time.Hour
		if _, err := store.Insert(ctx, "user-1", testEvent(title, start.Add(offset), start.Add(offset+time.Hour))); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	remote := &fakeRemote{createErr: func(event CalendarEvent) error {
		if event.Title == "poison" {
			return errors.New("provider rejected event")
		}
		return nil
	}}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	window := mustWindow(t, start.Add(-time.Hour), start.Add(5*time.Hour))
	result := orchestrator.Run(ctx, "user-1", window, DirectionPush)
	if !result.Success {
		t.Fatalf("per-item failures must not fail the run: %+v", result)
	}
	if result.Created != 2 {
		t.Fatalf("expected 2 created, got %d", result.Created)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}
}

func TestRunPullFetchFailureFailsRun(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, nil)

	remote := &fakeRemote{fetchErr: errors.New("listing events: provider unavailable")}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	window := mustWindow(t, start, start.Add(time.Hour))
	result := orchestrator.Run(context.Background(), "user-1", window, DirectionPull)
	if result.Success {
		t.Fatalf("expected failed run")
	}
	if len(result.Errors) == 0 {
		t.Fatalf("expected fetch error recorded")
	}
	if result.Created != 0 || result.Updated != 0 {
		t.Fatalf("expected no changes, got %+v", result)
	}
}

func TestRunBidirectionalPushesDespiteFetchFailure(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1"})
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if _, err := store.Insert(ctx, "user-1", testEvent("outgoing", start, start.Add(time.Hour))); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	remote := &fakeRemote{fetchErr: errors.New("listing events: provider unavailable")}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	window := mustWindow(t, start.Add(-time.Hour), start.Add(2*time.Hour))
	result := orchestrator.Run(ctx, "user-1", window, DirectionBidirectional)
	if result.Success {
		t.Fatalf("fetch failure must fail the run")
	}
	if result.Created != 1 {
		t.Fatalf("push must still run, got created=%d", result.Created)
	}
	if len(remote.created) != 1 {
		t.Fatalf("expected one remote create, got %d", len(remote.created))
	}
}

func TestRunBidirectionalRemoteWinsOverLocalEdit(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, []string{"event-1"})
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	event := testEvent("local edit", start, start.Add(time.Hour))
	event.RemoteID = "remote-1"
	event.SyncStatus = StatusModified
	created, err := store.Insert(ctx, "user-1", event)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	remote := &fakeRemote{snapshots: []RemoteSnapshot{
		{RemoteID: "remote-1", Title: "remote edit", Schedule: mustTimedSchedule(t, start, start.Add(time.Hour))},
	}}
	orchestrator := newTestOrchestrator(t, store, &fakeFactory{remote: remote})

	window := mustWindow(t, start.Add(-time.Hour), start.Add(2*time.Hour))
	result := orchestrator.Run(ctx, "user-1", window, DirectionBidirectional)
	if !result.Success {
		t.Fatalf("unexpected failure: %+v", result)
	}

	resolved, err := store.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if resolved.Title != "remote edit" {
		t.Fatalf("remote version must win, got %q", resolved.Title)
	}
	if resolved.SyncStatus != StatusSynced {
		t.Fatalf("expected synced status, got %q", resolved.SyncStatus)
	}
	if len(remote.updated) != 0 {
		t.Fatalf("pull must settle the conflict before push, got updates %v", remote.updated)
	}
}

func TestRunFailsWhenRemoteUnavailable(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db, nil)

	orchestrator := newTestOrchestrator(t, store, &fakeFactory{err: ErrRemoteAuth})

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	window := mustWindow(t, start, start.Add(time.Hour))
	result := orchestrator.Run(context.Background(), "user-1", window, DirectionBidirectional)
	if result.Success {
		t.Fatalf("expected failed run without credentials")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one error, got %v", result.Errors)
	}
}
