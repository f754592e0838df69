package calendar

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

var testClock = func() time.Time { return time.Unix(1750000000, 0).UTC() }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:souldream_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&CalendarEvent{}, &SyncSession{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, db *gorm.DB, ids []string) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      testClock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustWindow(t *testing.T, start, end time.Time) Window {
	t.Helper()
	window, err := NewWindow(start, end)
	if err != nil {
		t.Fatalf("unexpected window error: %v", err)
	}
	return window
}

func mustTimedSchedule(t *testing.T, start, end time.Time) Schedule {
	t.Helper()
	schedule, err := NewTimedSchedule(start, end)
	if err != nil {
		t.Fatalf("unexpected schedule error: %v", err)
	}
	return schedule
}

func mustAllDaySchedule(t *testing.T, start, end time.Time) Schedule {
	t.Helper()
	schedule, err := NewAllDaySchedule(start, end)
	if err != nil {
		t.Fatalf("unexpected schedule error: %v", err)
	}
	return schedule
}

// fakeRemote implements RemoteCalendar for orchestrator and tracker tests.
type fakeRemote struct {
	snapshots []RemoteSnapshot
	fetchErr  error
	createErr func(event CalendarEvent) error
	updateErr func(remoteID string) error

	nextID  int
	created []CalendarEvent
	updated []string
	deleted []string
}

func (f *fakeRemote) FetchEvents(_ context.Context, _ Window) ([]RemoteSnapshot, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.snapshots, nil
}

func (f *fakeRemote) CreateEvent(_ context.Context, event CalendarEvent) (string, RemoteSnapshot, error) {
	if f.createErr != nil {
		if err := f.createErr(event); err != nil {
			return "", RemoteSnapshot{}, err
		}
	}
	f.nextID++
	remoteID := fmt.Sprintf("remote-%d", f.nextID)
	f.created = append(f.created, event)
	return remoteID, RemoteSnapshot{RemoteID: remoteID}, nil
}

func (f *fakeRemote) UpdateEvent(_ context.Context, remoteID string, _ CalendarEvent) (RemoteSnapshot, error) {
	if f.updateErr != nil {
		if err := f.updateErr(remoteID); err != nil {
			return RemoteSnapshot{}, err
		}
	}
	f.updated = append(f.updated, remoteID)
	return RemoteSnapshot{RemoteID: remoteID}, nil
}

func (f *fakeRemote) DeleteEvent(_ context.Context, remoteID string) error {
	f.deleted = append(f.deleted, remoteID)
	return nil
}

type fakeFactory struct {
	remote RemoteCalendar
	err    error
}

func (f *fakeFactory) RemoteFor(_ context.Context, _ string) (RemoteCalendar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.remote, nil
}
