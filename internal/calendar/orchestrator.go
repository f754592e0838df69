package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	opOrchestratorNew = "calendar.sync.new"
	opPull            = "calendar.sync.pull"
	opPush            = "calendar.sync.push"

	defaultRemoteTimeout = 30 * time.Second
)

// RemoteCalendar is the provider-facing contract the orchestrator drives.
// Implemented by [gcal.Adapter]; tests substitute fakes.
type RemoteCalendar interface {
	FetchEvents(ctx context.Context, window Window) ([]RemoteSnapshot, error)
	CreateEvent(ctx context.Context, event CalendarEvent) (string, RemoteSnapshot, error)
	UpdateEvent(ctx context.Context, remoteID string, event CalendarEvent) (RemoteSnapshot, error)
	DeleteEvent(ctx context.Context, remoteID string) error
}

// RemoteFactory builds a RemoteCalendar for one owner. Credentials are
// read once per orchestrator invocation; a missing or expired grant
// surfaces as ErrRemoteAuth.
type RemoteFactory interface {
	RemoteFor(ctx context.Context, owner string) (RemoteCalendar, error)
}

// Result aggregates one reconciliation run. Success is false only when
// the run could not inventory the remote side (or obtain credentials);
// per-item failures leave Success true with a non-empty error list.
type Result struct {
	Success bool
	Created int
	Updated int
	Deleted int
	Errors  []string
}

// OrchestratorConfig describes the dependencies of the sync orchestrator.
type OrchestratorConfig struct {
	Store         *Store
	Remotes       RemoteFactory
	Clock         func() time.Time
	Logger        *zap.Logger
	RemoteTimeout time.Duration
}

// Orchestrator drives one reconciliation run over a window: pull, push,
// or both, with per-item error isolation.
type Orchestrator struct {
	store   *Store
	remotes RemoteFactory
	clock   func() time.Time
	logger  *zap.Logger
	timeout time.Duration
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, newError(opOrchestratorNew, "missing_store", ErrLocalPersistence, errMissingDatabase)
	}
	if cfg.Remotes == nil {
		return nil, newError(opOrchestratorNew, "missing_remote_factory", ErrRemoteAPI, errors.New("remote factory is required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	timeout := cfg.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Orchestrator{
		store:   cfg.Store,
		remotes: cfg.Remotes,
		clock:   clock,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Run executes one reconciliation for the owner over the window.
// Bidirectional runs pull before push, so remote edits win over local
// modifications to the same remote id. Run never returns an error; all
// failures land in the Result.
func (o *Orchestrator) Run(ctx context.Context, owner string, window Window, direction Direction) Result {
	result := Result{Success: true}

	remote, err := o.remotes.RemoteFor(ctx, owner)
	if err != nil {
		o.logger.Warn("remote adapter unavailable",
			zap.String("user_id", owner),
			zap.Error(err))
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if direction.includesPull() {
		created, updated, errs, fetchFailed := o.pull(ctx, remote, owner, window)
		result.Created += created
		result.Updated += updated
		result.Errors = append(result.Errors, errs...)
		if fetchFailed {
			result.Success = false
			if direction == DirectionPull {
				return result
			}
			// Bidirectional keeps going: push whatever is locally dirty
			// even though the remote inventory failed.
		}
	}

	if direction.includesPush() {
		created, updated, errs := o.push(ctx, remote, owner, window)
		result.Created += created
		result.Updated += updated
		result.Errors = append(result.Errors, errs...)
	}

	if result.Success {
		if err := o.store.RefreshSyncedWindow(ctx, owner, window, o.clock().UTC()); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	o.logger.Info("sync run finished",
		zap.String("user_id", owner),
		zap.String("direction", string(direction)),
		zap.Bool("success", result.Success),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", len(result.Errors)))

	return result
}

// pull fetches remote snapshots and merges them into the local store.
// fetchFailed reports that the inventory fetch itself failed; per-item
// failures only extend errs.
func (o *Orchestrator) pull(ctx context.Context, remote RemoteCalendar, owner string, window Window) (created, updated int, errs []string, fetchFailed bool) {
	snapshots, err := o.fetchRemote(ctx, remote, window)
	if err != nil {
		o.logError(opPull, "fetch_failed", err, zap.String("user_id", owner))
		errs = append(errs, fmt.Sprintf("fetching remote events: %v", err))
		return 0, 0, errs, true
	}

	for _, snapshot := range snapshots {
		existing, err := o.store.FindByRemoteID(ctx, owner, snapshot.RemoteID)
		switch {
		case err == nil:
			if _, err := o.store.ApplySnapshot(ctx, owner, existing.ID, snapshot, o.clock().UTC()); err != nil {
				o.logError(opPull, "apply_snapshot_failed", err,
					zap.String("user_id", owner),
					zap.String("remote_id", snapshot.RemoteID))
				errs = append(errs, fmt.Sprintf("updating local event from remote %s: %v", snapshot.RemoteID, err))
				continue
			}
			updated++
		case errors.Is(err, ErrNotFound):
			if _, err := o.store.InsertFromSnapshot(ctx, owner, snapshot, o.clock().UTC()); err != nil {
				o.logError(opPull, "insert_snapshot_failed", err,
					zap.String("user_id", owner),
					zap.String("remote_id", snapshot.RemoteID))
				errs = append(errs, fmt.Sprintf("creating local event from remote %s: %v", snapshot.RemoteID, err))
				continue
			}
			created++
		default:
			o.logError(opPull, "lookup_failed", err,
				zap.String("user_id", owner),
				zap.String("remote_id", snapshot.RemoteID))
			errs = append(errs, fmt.Sprintf("resolving remote %s: %v", snapshot.RemoteID, err))
		}
	}

	return created, updated, errs, false
}

// push sends locally dirty events in the window to the remote provider.
func (o *Orchestrator) push(ctx context.Context, remote RemoteCalendar, owner string, window Window) (created, updated int, errs []string) {
	dirty, err := o.store.ListDirty(ctx, owner, window)
	if err != nil {
		o.logError(opPush, "list_dirty_failed", err, zap.String("user_id", owner))
		errs = append(errs, fmt.Sprintf("listing local events: %v", err))
		return 0, 0, errs
	}

	for _, event := range dirty {
		if event.RemoteID != "" {
			if err := o.pushUpdate(ctx, remote, owner, event); err != nil {
				o.logError(opPush, "update_failed", err,
					zap.String("user_id", owner),
					zap.String("event_id", event.ID))
				errs = append(errs, fmt.Sprintf("pushing event %s: %v", event.ID, err))
				continue
			}
			updated++
			continue
		}
		if err := o.pushCreate(ctx, remote, owner, event); err != nil {
			o.logError(opPush, "create_failed", err,
				zap.String("user_id", owner),
				zap.String("event_id", event.ID))
			errs = append(errs, fmt.Sprintf("pushing event %s: %v", event.ID, err))
			continue
		}
		created++
	}

	return created, updated, errs
}

func (o *Orchestrator) pushUpdate(ctx context.Context, remote RemoteCalendar, owner string, event CalendarEvent) error {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if _, err := remote.UpdateEvent(callCtx, event.RemoteID, event); err != nil {
		return err
	}
	syncedAt := o.clock().UTC()
	return o.store.SetSyncStatus(ctx, owner, event.ID, StatusSynced, &syncedAt)
}

func (o *Orchestrator) pushCreate(ctx context.Context, remote RemoteCalendar, owner string, event CalendarEvent) error {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	remoteID, _, err := remote.CreateEvent(callCtx, event)
	if err != nil {
		return err
	}
	return o.store.AttachRemote(ctx, owner, event.ID, remoteID, o.clock().UTC())
}

func (o *Orchestrator) fetchRemote(ctx context.Context, remote RemoteCalendar, window Window) ([]RemoteSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return remote.FetchEvents(callCtx, window)
}

func (o *Orchestrator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	o.logger.Error("calendar sync error", attrs...)
}
