package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// SyncEngine drains PENDING commands per workspace in FIFO order: on a
// trigger it takes the workspace sync lock, submits commands one at a time
// and records the outcome. Command N+1 is never submitted before command N
// reaches a terminal or conflict state. Workspaces drain independently.
type SyncEngine struct {
	repo      domain.OutboxRepository
	lock      domain.SyncLock
	submitter domain.CommandSubmitter
	monitor   domain.NetworkMonitor
	backoff   domain.BackoffPolicy
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	active   map[string]bool // workspace has a drain goroutine
	trailing map[string]bool // trigger arrived mid-drain, run once more
	// notBefore is the backoff window for the workspace head. It is
	// process-local: when the sync lock is shared across processes, a trigger
	// in another process can resubmit the delayed head before the window
	// elapses. The idempotency key keeps that safe; only the delay shrinks.
	notBefore  map[string]time.Time
	timers     map[string]*time.Timer
	workspaces map[string]struct{} // triggered on connectivity regained
	closed     bool

	unsubscribe func()
}

func NewSyncEngine(
	repo domain.OutboxRepository,
	lock domain.SyncLock,
	submitter domain.CommandSubmitter,
	monitor domain.NetworkMonitor,
	backoff domain.BackoffPolicy,
	logger *slog.Logger,
) *SyncEngine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &SyncEngine{
		repo:       repo,
		lock:       lock,
		submitter:  submitter,
		monitor:    monitor,
		backoff:    backoff,
		logger:     logger.With("component", "sync-engine"),
		ctx:        ctx,
		cancel:     cancel,
		active:     make(map[string]bool),
		trailing:   make(map[string]bool),
		notBefore:  make(map[string]time.Time),
		timers:     make(map[string]*time.Timer),
		workspaces: make(map[string]struct{}),
	}
	e.unsubscribe = monitor.Subscribe(func(status domain.NetworkStatus) {
		if status != domain.NetworkOnline {
			return
		}
		for _, ws := range e.registeredWorkspaces() {
			e.TriggerSync(ws)
		}
	})
	return e
}

// RegisterWorkspace enrolls a workspace for automatic triggers on
// connectivity transitions. Explicit TriggerSync calls work either way.
func (e *SyncEngine) RegisterWorkspace(workspaceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workspaces[workspaceID] = struct{}{}
}

func (e *SyncEngine) registeredWorkspaces() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.workspaces))
	for ws := range e.workspaces {
		out = append(out, ws)
	}
	return out
}

// TriggerSync requests a drain for the workspace. Non-blocking; concurrent
// triggers collapse into the active drain plus at most one trailing run.
func (e *SyncEngine) TriggerSync(workspaceID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.active[workspaceID] {
		e.trailing[workspaceID] = true
		e.mu.Unlock()
		return
	}
	e.active[workspaceID] = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(workspaceID)
}

func (e *SyncEngine) run(workspaceID string) {
	defer e.wg.Done()
	for {
		e.drain(e.ctx, workspaceID)

		e.mu.Lock()
		if e.trailing[workspaceID] && !e.closed {
			delete(e.trailing, workspaceID)
			e.mu.Unlock()
			continue
		}
		delete(e.active, workspaceID)
		e.mu.Unlock()
		return
	}
}

func (e *SyncEngine) drain(ctx context.Context, workspaceID string) {
	if e.monitor.Status() == domain.NetworkOffline {
		return
	}

	// The head command may still be inside its backoff window.
	e.mu.Lock()
	wait := time.Until(e.notBefore[workspaceID])
	e.mu.Unlock()
	if wait > 0 {
		e.scheduleResume(workspaceID, wait)
		return
	}

	ok, err := e.lock.Acquire(ctx, workspaceID)
	if err != nil {
		e.logger.WarnContext(ctx, "lock acquire failed", "workspaceId", workspaceID, "error", err)
		return
	}
	if !ok {
		// Another run owns this workspace.
		return
	}
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if err := e.lock.Release(releaseCtx, workspaceID); err != nil {
			e.logger.WarnContext(releaseCtx, "lock release failed", "workspaceId", workspaceID, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmd, err := e.repo.NextPending(ctx, workspaceID)
		if err != nil {
			// StorageUnavailable included: abort this attempt, keep all
			// queued state for the next trigger.
			e.logger.WarnContext(ctx, "fetch pending failed", "workspaceId", workspaceID, "error", err)
			return
		}
		if cmd == nil {
			return
		}

		// Defensive: enqueue enforces key uniqueness; a store that lost its
		// unique index could map the key to a different entry.
		dup, err := e.repo.FindByIdempotencyKey(ctx, workspaceID, cmd.IdempotencyKey)
		if err != nil {
			return
		}
		if dup != nil && dup.ID != cmd.ID {
			_ = e.repo.MarkFailedPermanent(ctx, cmd.ID, "idempotency key owned by command "+dup.ID.String())
			continue
		}

		if err := e.repo.MarkSyncing(ctx, cmd.ID); err != nil {
			if errors.Is(err, domain.ErrNotPending) {
				// Raced by another dispatcher; it owns the command now.
				continue
			}
			return
		}

		if !e.handleOutcome(ctx, workspaceID, cmd) {
			return
		}
	}
}

// handleOutcome submits one command and records the result. Returns false
// when the drain must stop (backoff armed, cancellation, storage failure).
func (e *SyncEngine) handleOutcome(ctx context.Context, workspaceID string, cmd *domain.OutboxCommand) bool {
	res, err := e.submitter.Submit(ctx, cmd)

	switch {
	case err == nil && res != nil && res.Conflict != nil:
		if err := e.repo.MarkConflict(ctx, cmd.ID, *res.Conflict); err != nil {
			return false
		}
		e.logger.InfoContext(ctx, "command conflicted",
			"commandId", cmd.ID.String(), "workspaceId", workspaceID, "type", cmd.Type)
		return true

	case err == nil:
		if err := e.repo.MarkSent(ctx, cmd.ID); err != nil {
			return false
		}
		e.logger.InfoContext(ctx, "command sent",
			"commandId", cmd.ID.String(), "workspaceId", workspaceID, "type", cmd.Type)
		return true

	default:
		if ctx.Err() != nil {
			// Abandoned mid-flight; the command stays SYNCING and Recover
			// requeues it on the next start. Idempotency key makes the
			// resubmission safe.
			return false
		}

		var sve *domain.ServerValidationError
		if errors.As(err, &sve) {
			if err := e.repo.MarkFailedPermanent(ctx, cmd.ID, sve.Error()); err != nil {
				return false
			}
			e.logger.WarnContext(ctx, "command rejected by server",
				"commandId", cmd.ID.String(), "workspaceId", workspaceID, "status", sve.Status)
			// A single bad command never blocks the rest of the queue.
			return true
		}

		if err := e.repo.MarkFailedRetryable(ctx, cmd.ID, err.Error()); err != nil {
			return false
		}
		delay := domain.Delay(cmd.Attempts, e.backoff)
		e.logger.WarnContext(ctx, "command submission failed, backing off",
			"commandId", cmd.ID.String(), "workspaceId", workspaceID,
			"attempts", cmd.Attempts+1, "delay", delay.String(), "error", err)
		e.scheduleResume(workspaceID, delay)
		return false
	}
}

// scheduleResume arms a timer that re-triggers the workspace after the
// backoff delay. The notBefore window keeps earlier external triggers from
// resubmitting the delayed head command.
func (e *SyncEngine) scheduleResume(workspaceID string, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.notBefore[workspaceID] = time.Now().Add(delay)
	if t, ok := e.timers[workspaceID]; ok {
		t.Stop()
	}
	e.timers[workspaceID] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, workspaceID)
		delete(e.notBefore, workspaceID)
		closed := e.closed
		e.mu.Unlock()
		if !closed {
			e.TriggerSync(workspaceID)
		}
	})
}

// Recover requeues commands left SYNCING by a crashed or cancelled run.
// Call at startup or app resume, before the first trigger.
func (e *SyncEngine) Recover(ctx context.Context, workspaceID string) (int, error) {
	n, err := e.repo.RequeueStuckSyncing(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.InfoContext(ctx, "requeued stuck commands", "workspaceId", workspaceID, "count", n)
	}
	return n, nil
}

// Close stops the engine: cancels in-flight submissions, stops backoff
// timers, detaches from the network monitor and waits for drains to exit.
func (e *SyncEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for ws, t := range e.timers {
		t.Stop()
		delete(e.timers, ws)
	}
	e.mu.Unlock()

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.cancel()
	e.wg.Wait()
}
