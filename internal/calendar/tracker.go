package calendar

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opTrackerNew     = "calendar.tracker.new"
	opCreateSession  = "calendar.tracker.create_session"
	opRunSession     = "calendar.tracker.run_session"
	opGetSession     = "calendar.tracker.get_session"
	opFinishSession  = "calendar.tracker.finish_session"
	opStartedSession = "calendar.tracker.mark_running"
)

var errSessionNotPending = errors.New("session is not pending")

// TrackerConfig describes the dependencies of the sync job tracker.
type TrackerConfig struct {
	Database     *gorm.DB
	Orchestrator *Orchestrator
	Clock        func() time.Time
	IDProvider   IDProvider
	Logger       *zap.Logger
}

// Tracker records sync runs as addressable sessions and executes them
// through the orchestrator.
type Tracker struct {
	db           *gorm.DB
	orchestrator *Orchestrator
	clock        func() time.Time
	idProvider   IDProvider
	logger       *zap.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, newError(opTrackerNew, "missing_database", ErrLocalPersistence, errMissingDatabase)
	}
	if cfg.Orchestrator == nil {
		return nil, newError(opTrackerNew, "missing_orchestrator", ErrLocalPersistence, errors.New("orchestrator is required"))
	}
	if cfg.IDProvider == nil {
		return nil, newError(opTrackerNew, "missing_id_provider", ErrLocalPersistence, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Tracker{
		db:           cfg.Database,
		orchestrator: cfg.Orchestrator,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		logger:       logger,
	}, nil
}

// CreateSession registers a pending sync run and returns it.
func (t *Tracker) CreateSession(ctx context.Context, owner string, window Window, direction Direction, trigger Trigger) (SyncSession, error) {
	if owner == "" {
		return SyncSession{}, newError(opCreateSession, "missing_owner", ErrNotFound, errMissingOwner)
	}
	id, err := t.idProvider.NewID()
	if err != nil {
		t.logError(opCreateSession, "id_generation_failed", err, zap.String("user_id", owner))
		return SyncSession{}, newError(opCreateSession, "id_generation_failed", ErrLocalPersistence, err)
	}
	session := SyncSession{
		ID:          id,
		UserID:      owner,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Direction:   direction,
		Trigger:     trigger,
		Status:      SessionPending,
		CreatedAt:   t.clock().UTC(),
	}
	if err := t.db.WithContext(ctx).Create(&session).Error; err != nil {
		t.logError(opCreateSession, "insert_failed", err, zap.String("user_id", owner))
		return SyncSession{}, newError(opCreateSession, "insert_failed", ErrLocalPersistence, err)
	}
	return session, nil
}

// RunSession executes a pending session through the orchestrator and
// stores the terminal outcome. A run whose context is cancelled finishes
// failed with the cancellation recorded.
func (t *Tracker) RunSession(ctx context.Context, owner, sessionID string) (Result, error) {
	session, err := t.GetSession(ctx, owner, sessionID)
	if err != nil {
		return Result{}, err
	}
	if session.Status != SessionPending {
		return Result{}, newError(opRunSession, "not_pending", ErrLocalPersistence, errSessionNotPending)
	}
	window, err := session.Window()
	if err != nil {
		return Result{}, newError(opRunSession, "invalid_window", ErrLocalPersistence, err)
	}

	if err := t.markRunning(ctx, &session); err != nil {
		return Result{}, err
	}

	result := t.orchestrator.Run(ctx, owner, window, session.Direction)
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.Success = false
		result.Errors = append(result.Errors, ctxErr.Error())
	}

	if err := t.finish(session.ID, owner, result); err != nil {
		return result, err
	}
	return result, nil
}

// GetSession returns the session state for the owner.
func (t *Tracker) GetSession(ctx context.Context, owner, sessionID string) (SyncSession, error) {
	if owner == "" || sessionID == "" {
		return SyncSession{}, newError(opGetSession, "missing_identifier", ErrNotFound, errMissingEventID)
	}
	var session SyncSession
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", owner, sessionID).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SyncSession{}, newError(opGetSession, "not_found", ErrNotFound, err)
	}
	if err != nil {
		t.logError(opGetSession, "query_failed", err, zap.String("user_id", owner), zap.String("session_id", sessionID))
		return SyncSession{}, newError(opGetSession, "query_failed", ErrLocalPersistence, err)
	}
	return session, nil
}

func (t *Tracker) markRunning(ctx context.Context, session *SyncSession) error {
	startedAt := t.clock().UTC()
	result := t.db.WithContext(ctx).Model(&SyncSession{}).
		Where("id = ? AND user_id = ? AND status = ?", session.ID, session.UserID, SessionPending).
		Updates(map[string]interface{}{
			"status":     SessionRunning,
			"started_at": startedAt,
		})
	if result.Error != nil {
		t.logError(opStartedSession, "update_failed", result.Error, zap.String("session_id", session.ID))
		return newError(opStartedSession, "update_failed", ErrLocalPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return newError(opStartedSession, "not_pending", ErrLocalPersistence, errSessionNotPending)
	}
	session.Status = SessionRunning
	session.StartedAt = &startedAt
	return nil
}

// finish writes the terminal state. It deliberately ignores the request
// context so a cancelled run still records its outcome.
func (t *Tracker) finish(sessionID, owner string, result Result) error {
	status := SessionCompleted
	if !result.Success {
		status = SessionFailed
	}
	finishedAt := t.clock().UTC()
	err := t.db.Model(&SyncSession{}).
		Where("id = ? AND user_id = ?", sessionID, owner).
		Updates(map[string]interface{}{
			"status":         status,
			"events_created": result.Created,
			"events_updated": result.Updated,
			"events_deleted": result.Deleted,
			"errors_json":    encodeErrors(result.Errors),
			"finished_at":    finishedAt,
		}).Error
	if err != nil {
		t.logError(opFinishSession, "update_failed", err, zap.String("session_id", sessionID))
		return newError(opFinishSession, "update_failed", ErrLocalPersistence, err)
	}
	return nil
}

func (t *Tracker) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	t.logger.Error("calendar tracker error", attrs...)
}
