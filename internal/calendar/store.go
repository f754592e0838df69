package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOwner      = errors.New("owner identifier is required")
	errMissingEventID    = errors.New("event identifier is required")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew       = "calendar.store.new"
	opListWindow     = "calendar.store.list_window"
	opGetEvent       = "calendar.store.get"
	opInsertEvent    = "calendar.store.insert"
	opUpdateEvent    = "calendar.store.update"
	opDeleteEvent    = "calendar.store.delete"
	opFindByRemote   = "calendar.store.find_by_remote_id"
	opListDirty      = "calendar.store.list_dirty"
	opSetSyncStatus  = "calendar.store.set_sync_status"
	opAttachRemote   = "calendar.store.attach_remote"
	opApplySnapshot  = "calendar.store.apply_snapshot"
	opInsertSnapshot = "calendar.store.insert_snapshot"
	opRefreshWindow  = "calendar.store.refresh_window"
)

// IDProvider issues identifiers for newly created records.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the local event store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the local event store. Every operation is scoped to the
// requesting owner; touching another owner's event fails with ErrNotFound.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newError(opStoreNew, "missing_database", ErrLocalPersistence, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newError(opStoreNew, "missing_id_provider", ErrLocalPersistence, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// ListWindow returns the owner's events overlapping the window, ordered by
// start time.
func (s *Store) ListWindow(ctx context.Context, owner string, window Window) ([]CalendarEvent, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, newError(opListWindow, "missing_owner", ErrNotFound, errMissingOwner)
	}
	var events []CalendarEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND start_time <= ? AND end_time >= ?", owner, window.End, window.Start).
		Order("start_time ASC").
		Find(&events).Error
	if err != nil {
		s.logError(opListWindow, "query_failed", err, zap.String("user_id", owner))
		return nil, newError(opListWindow, "query_failed", ErrLocalPersistence, err)
	}
	return events, nil
}

// Get returns one event by id for the owner.
func (s *Store) Get(ctx context.Context, owner, eventID string) (CalendarEvent, error) {
	if strings.TrimSpace(eventID) == "" {
		return CalendarEvent{}, newError(opGetEvent, "missing_event_id", ErrNotFound, errMissingEventID)
	}
	var event CalendarEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", owner, eventID).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CalendarEvent{}, newError(opGetEvent, "not_found", ErrNotFound, err)
	}
	if err != nil {
		s.logError(opGetEvent, "query_failed", err, zap.String("user_id", owner), zap.String("event_id", eventID))
		return CalendarEvent{}, newError(opGetEvent, "query_failed", ErrLocalPersistence, err)
	}
	return event, nil
}

// Insert persists a new event for the owner. An empty id is assigned from
// the id provider; an empty status defaults to local. Attaching a remote
// id already held by another event is rejected to keep the remote mapping
// one-to-one.
func (s *Store) Insert(ctx context.Context, owner string, event CalendarEvent) (CalendarEvent, error) {
	if strings.TrimSpace(owner) == "" {
		return CalendarEvent{}, newError(opInsertEvent, "missing_owner", ErrNotFound, errMissingOwner)
	}
	if event.EndTime.Before(event.StartTime) {
		return CalendarEvent{}, newError(opInsertEvent, "invalid_schedule", ErrMapping, ErrInvalidSchedule)
	}
	if event.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opInsertEvent, "id_generation_failed", err, zap.String("user_id", owner))
			return CalendarEvent{}, newError(opInsertEvent, "id_generation_failed", ErrLocalPersistence, err)
		}
		event.ID = id
	}
	event.UserID = owner
	if event.SyncStatus == "" {
		event.SyncStatus = StatusLocal
	}
	if event.RemoteID != "" {
		if err := s.ensureRemoteIDFree(ctx, owner, event.RemoteID, event.ID); err != nil {
			return CalendarEvent{}, err
		}
	}
	now := s.clock().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logError(opInsertEvent, "insert_failed", err, zap.String("user_id", owner), zap.String("event_id", event.ID))
		return CalendarEvent{}, newError(opInsertEvent, "insert_failed", ErrLocalPersistence, err)
	}
	return event, nil
}

// Update applies a user edit. Events that were synced flip to modified so
// the next push picks them up.
func (s *Store) Update(ctx context.Context, owner, eventID string, update EventUpdate) (CalendarEvent, error) {
	event, err := s.Get(ctx, owner, eventID)
	if err != nil {
		return CalendarEvent{}, err
	}

	if update.Title != nil {
		event.Title = *update.Title
	}
	if update.Description != nil {
		event.Description = *update.Description
	}
	if update.Location != nil {
		event.Location = *update.Location
	}
	if update.Color != nil {
		event.Color = *update.Color
	}
	if update.Schedule != nil {
		event.ApplySchedule(*update.Schedule)
	}
	if update.RecurrenceRule != nil {
		event.RecurrenceRule = *update.RecurrenceRule
	}
	if update.RelatedID != nil {
		event.RelatedID = *update.RelatedID
	}
	if update.RelatedType != nil {
		event.RelatedType = *update.RelatedType
	}

	if event.SyncStatus == StatusSynced {
		event.SyncStatus = StatusModified
	}
	event.UpdatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Save(&event).Error; err != nil {
		s.logError(opUpdateEvent, "save_failed", err, zap.String("user_id", owner), zap.String("event_id", eventID))
		return CalendarEvent{}, newError(opUpdateEvent, "save_failed", ErrLocalPersistence, err)
	}
	return event, nil
}

// Delete removes an event locally. The sync engine never propagates
// deletes; callers that want the remote copy gone must ask the adapter.
func (s *Store) Delete(ctx context.Context, owner, eventID string) error {
	if _, err := s.Get(ctx, owner, eventID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", owner, eventID).
		Delete(&CalendarEvent{}).Error
	if err != nil {
		s.logError(opDeleteEvent, "delete_failed", err, zap.String("user_id", owner), zap.String("event_id", eventID))
		return newError(opDeleteEvent, "delete_failed", ErrLocalPersistence, err)
	}
	return nil
}

// FindByRemoteID returns the owner's event holding the given remote id.
func (s *Store) FindByRemoteID(ctx context.Context, owner, remoteID string) (CalendarEvent, error) {
	if strings.TrimSpace(remoteID) == "" {
		return CalendarEvent{}, newError(opFindByRemote, "missing_remote_id", ErrNotFound, errMissingEventID)
	}
	var event CalendarEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND remote_event_id = ?", owner, remoteID).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CalendarEvent{}, newError(opFindByRemote, "not_found", ErrNotFound, err)
	}
	if err != nil {
		s.logError(opFindByRemote, "query_failed", err, zap.String("user_id", owner), zap.String("remote_id", remoteID))
		return CalendarEvent{}, newError(opFindByRemote, "query_failed", ErrLocalPersistence, err)
	}
	return event, nil
}

// ListDirty returns events in the window awaiting a push (status local or
// modified).
func (s *Store) ListDirty(ctx context.Context, owner string, window Window) ([]CalendarEvent, error) {
	var events []CalendarEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND start_time <= ? AND end_time >= ? AND sync_status IN ?",
			owner, window.End, window.Start, []SyncStatus{StatusLocal, StatusModified}).
		Order("start_time ASC").
		Find(&events).Error
	if err != nil {
		s.logError(opListDirty, "query_failed", err, zap.String("user_id", owner))
		return nil, newError(opListDirty, "query_failed", ErrLocalPersistence, err)
	}
	return events, nil
}

// SetSyncStatus updates sync metadata on one event.
func (s *Store) SetSyncStatus(ctx context.Context, owner, eventID string, status SyncStatus, lastSyncedAt *time.Time) error {
	updates := map[string]interface{}{
		"sync_status": status,
		"updated_at":  s.clock().UTC(),
	}
	if lastSyncedAt != nil {
		updates["last_synced_at"] = lastSyncedAt.UTC()
	}
	result := s.db.WithContext(ctx).Model(&CalendarEvent{}).
		Where("user_id = ? AND id = ?", owner, eventID).
		Updates(updates)
	if result.Error != nil {
		s.logError(opSetSyncStatus, "update_failed", result.Error, zap.String("user_id", owner), zap.String("event_id", eventID))
		return newError(opSetSyncStatus, "update_failed", ErrLocalPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return newError(opSetSyncStatus, "not_found", ErrNotFound, gorm.ErrRecordNotFound)
	}
	return nil
}

// AttachRemote records the remote id assigned during a push and marks the
// event synced. The remote id must not already belong to a sibling event.
func (s *Store) AttachRemote(ctx context.Context, owner, eventID, remoteID string, syncedAt time.Time) error {
	if strings.TrimSpace(remoteID) == "" {
		return newError(opAttachRemote, "missing_remote_id", ErrLocalPersistence, errMissingEventID)
	}
	if err := s.ensureRemoteIDFree(ctx, owner, remoteID, eventID); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&CalendarEvent{}).
		Where("user_id = ? AND id = ?", owner, eventID).
		Updates(map[string]interface{}{
			"remote_event_id": remoteID,
			"sync_status":     StatusSynced,
			"last_synced_at":  syncedAt.UTC(),
			"updated_at":      s.clock().UTC(),
		})
	if result.Error != nil {
		s.logError(opAttachRemote, "update_failed", result.Error, zap.String("user_id", owner), zap.String("event_id", eventID))
		return newError(opAttachRemote, "update_failed", ErrLocalPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return newError(opAttachRemote, "not_found", ErrNotFound, gorm.ErrRecordNotFound)
	}
	return nil
}

// ApplySnapshot overwrites an existing event with the remote snapshot and
// marks it synced. Used by the pull phase; remote wins over local edits.
func (s *Store) ApplySnapshot(ctx context.Context, owner, eventID string, snapshot RemoteSnapshot, syncedAt time.Time) (CalendarEvent, error) {
	event, err := s.Get(ctx, owner, eventID)
	if err != nil {
		return CalendarEvent{}, err
	}
	mergeSnapshot(&event, snapshot)
	event.SyncStatus = StatusSynced
	synced := syncedAt.UTC()
	event.LastSyncedAt = &synced
	event.UpdatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Save(&event).Error; err != nil {
		s.logError(opApplySnapshot, "save_failed", err, zap.String("user_id", owner), zap.String("event_id", eventID))
		return CalendarEvent{}, newError(opApplySnapshot, "save_failed", ErrLocalPersistence, err)
	}
	return event, nil
}

// InsertFromSnapshot creates a new synced event from a remote snapshot.
func (s *Store) InsertFromSnapshot(ctx context.Context, owner string, snapshot RemoteSnapshot, syncedAt time.Time) (CalendarEvent, error) {
	if strings.TrimSpace(snapshot.RemoteID) == "" {
		return CalendarEvent{}, newError(opInsertSnapshot, "missing_remote_id", ErrMapping, errMissingEventID)
	}
	var event CalendarEvent
	mergeSnapshot(&event, snapshot)
	event.SyncStatus = StatusSynced
	synced := syncedAt.UTC()
	event.LastSyncedAt = &synced
	return s.Insert(ctx, owner, event)
}

// RefreshSyncedWindow bumps last-synced on every synced event in the
// window, marking the window as checked even when nothing changed.
func (s *Store) RefreshSyncedWindow(ctx context.Context, owner string, window Window, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&CalendarEvent{}).
		Where("user_id = ? AND start_time <= ? AND end_time >= ? AND sync_status = ?",
			owner, window.End, window.Start, StatusSynced).
		Update("last_synced_at", at.UTC()).Error
	if err != nil {
		s.logError(opRefreshWindow, "update_failed", err, zap.String("user_id", owner))
		return newError(opRefreshWindow, "update_failed", ErrLocalPersistence, err)
	}
	return nil
}

// ensureRemoteIDFree guards the invariant that a remote id maps to at most
// one local event per owner.
func (s *Store) ensureRemoteIDFree(ctx context.Context, owner, remoteID, eventID string) error {
	existing, err := s.FindByRemoteID(ctx, owner, remoteID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == eventID {
		return nil
	}
	s.logError(opAttachRemote, "remote_id_conflict", nil,
		zap.String("user_id", owner),
		zap.String("remote_id", remoteID),
		zap.String("holder_event_id", existing.ID))
	return newError(opAttachRemote, "remote_id_conflict", ErrLocalPersistence, nil)
}

func mergeSnapshot(event *CalendarEvent, snapshot RemoteSnapshot) {
	event.RemoteID = snapshot.RemoteID
	event.Title = snapshot.Title
	event.Description = snapshot.Description
	event.Location = snapshot.Location
	event.Color = snapshot.Color
	event.RecurrenceRule = snapshot.RecurrenceRule
	event.ApplySchedule(snapshot.Schedule)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("calendar store error", attrs...)
}
