// Package locking provides SyncLock adapters: in-process for single-process
// hosts, SQLite next to the outbox, and Redis for multi-process devices.
// A lock is free once its TTL elapses even if the holder never released.
package locking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lockRecord struct {
	owner      string
	acquiredAt time.Time
}

// LocalLock is the in-process adapter. All triggers in the same process must
// share one instance; the TTL covers a drain goroutine that never returns.
type LocalLock struct {
	mu    sync.Mutex
	ttl   time.Duration
	owner string
	held  map[string]lockRecord
	now   func() time.Time
}

func NewLocalLock(ttl time.Duration) *LocalLock {
	return &LocalLock{
		ttl:   ttl,
		owner: uuid.NewString(),
		held:  make(map[string]lockRecord),
		now:   time.Now,
	}
}

func (l *LocalLock) Acquire(_ context.Context, workspaceID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.held[workspaceID]
	if ok && l.now().Sub(rec.acquiredAt) <= l.ttl {
		return false, nil
	}
	l.held[workspaceID] = lockRecord{owner: l.owner, acquiredAt: l.now()}
	return true, nil
}

func (l *LocalLock) Release(_ context.Context, workspaceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.held[workspaceID]
	if !ok {
		return nil
	}
	// Only the owner clears its own record; an expired record left by a
	// crashed holder falls to the next Acquire.
	if rec.owner == l.owner {
		delete(l.held, workspaceID)
	}
	return nil
}
