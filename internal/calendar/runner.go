package calendar

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner executes sessions off the request path. At most one run is
// active per owner: a new background run cancels and supersedes a stale
// one, while a blocking run refuses to start alongside an active run.
type Runner struct {
	tracker *Tracker
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRunner constructs a Runner around the tracker.
func NewRunner(tracker *Tracker, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = noOpLogger
	}
	return &Runner{
		tracker: tracker,
		logger:  logger,
		active:  make(map[string]*activeRun),
	}
}

// RunBlocking executes the session synchronously and returns its result.
// It fails with ErrSyncInProgress when another run is active for the
// owner.
func (r *Runner) RunBlocking(ctx context.Context, owner, sessionID string) (Result, error) {
	run, err := r.register(owner, sessionID, func() {})
	if err != nil {
		return Result{}, err
	}
	defer close(run.done)
	defer r.release(owner, run)

	return r.tracker.RunSession(ctx, owner, sessionID)
}

// RunBackground starts the session in a goroutine and returns
// immediately. An active run for the same owner is cancelled first; the
// new run waits for the old one to drain before starting so their writes
// never interleave.
func (r *Runner) RunBackground(owner, sessionID string) {
	runCtx, cancel := context.WithCancel(context.Background())
	run, err := r.registerSuperseding(owner, sessionID, cancel)
	if err != nil {
		// Only ErrSyncInProgress races reach here and registerSuperseding
		// resolves those by cancelling; treat any residue as a lost race.
		cancel()
		r.logger.Warn("background sync not started",
			zap.String("user_id", owner),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	go func() {
		defer close(run.done)
		defer r.release(owner, run)

		if _, err := r.tracker.RunSession(runCtx, owner, sessionID); err != nil {
			r.logger.Error("background sync failed",
				zap.String("user_id", owner),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()
}

// Active reports the session id of the owner's in-flight run, if any.
func (r *Runner) Active(owner string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[owner]
	if !ok {
		return "", false
	}
	return run.sessionID, true
}

func (r *Runner) register(owner, sessionID string, cancel context.CancelFunc) (*activeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[owner]; ok {
		return nil, newError("calendar.runner.register", "owner_busy", ErrSyncInProgress, nil)
	}
	run := &activeRun{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}
	r.active[owner] = run
	return run, nil
}

// registerSuperseding cancels the owner's current run (when present) and
// waits for it to finish before claiming the slot.
func (r *Runner) registerSuperseding(owner, sessionID string, cancel context.CancelFunc) (*activeRun, error) {
	for {
		r.mu.Lock()
		stale, busy := r.active[owner]
		if !busy {
			run := &activeRun{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}
			r.active[owner] = run
			r.mu.Unlock()
			return run, nil
		}
		r.mu.Unlock()

		r.logger.Info("superseding stale sync run",
			zap.String("user_id", owner),
			zap.String("stale_session_id", stale.sessionID),
			zap.String("session_id", sessionID))
		stale.cancel()
		<-stale.done
	}
}

func (r *Runner) release(owner string, run *activeRun) {
	r.mu.Lock()
	if current, ok := r.active[owner]; ok && current == run {
		delete(r.active, owner)
	}
	r.mu.Unlock()
	run.cancel()
}
