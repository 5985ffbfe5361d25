package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// MemoryOutboxRepository keeps the queue in process memory. Meant for tests
// and ephemeral hosts; commands do not survive a restart.
type MemoryOutboxRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*memoryRow
	seq  int64

	// FailNext makes the next operation return ErrStorageUnavailable, to
	// exercise the engine's storage-outage path in tests.
	FailNext bool
}

type memoryRow struct {
	cmd *domain.OutboxCommand
	seq int64
}

func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{rows: make(map[uuid.UUID]*memoryRow)}
}

func (r *MemoryOutboxRepository) failNext() error {
	if r.FailNext {
		r.FailNext = false
		return fmt.Errorf("memory outbox: %w", domain.ErrStorageUnavailable)
	}
	return nil
}

func clone(c *domain.OutboxCommand) *domain.OutboxCommand {
	cp := *c
	if c.LastError != nil {
		s := *c.LastError
		cp.LastError = &s
	}
	if c.Conflict != nil {
		ci := *c.Conflict
		cp.Conflict = &ci
	}
	return &cp
}

func (r *MemoryOutboxRepository) Enqueue(_ context.Context, cmd *domain.OutboxCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return err
	}
	if _, exists := r.rows[cmd.ID]; exists {
		return fmt.Errorf("memory outbox: duplicate command id %s", cmd.ID)
	}
	r.seq++
	r.rows[cmd.ID] = &memoryRow{cmd: clone(cmd), seq: r.seq}
	return nil
}

func (r *MemoryOutboxRepository) NextPending(_ context.Context, workspaceID string) (*domain.OutboxCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return nil, err
	}
	var best *memoryRow
	for _, row := range r.rows {
		if row.cmd.WorkspaceID != workspaceID || row.cmd.Status != domain.StatusPending {
			continue
		}
		if best == nil || earlier(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best.cmd), nil
}

// earlier orders by createdAt, then insertion sequence.
func earlier(a, b *memoryRow) bool {
	if a.cmd.CreatedAtUtc.Equal(b.cmd.CreatedAtUtc) {
		return a.seq < b.seq
	}
	return a.cmd.CreatedAtUtc.Before(b.cmd.CreatedAtUtc)
}

func (r *MemoryOutboxRepository) transition(id uuid.UUID, from []domain.CommandStatus, apply func(*domain.OutboxCommand)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return err
	}
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCommandNotFound, id)
	}
	allowed := false
	for _, s := range from {
		if row.cmd.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s", domain.ErrNotPending, id)
	}
	apply(row.cmd)
	return nil
}

func (r *MemoryOutboxRepository) MarkSyncing(_ context.Context, id uuid.UUID) error {
	return r.transition(id, []domain.CommandStatus{domain.StatusPending}, func(c *domain.OutboxCommand) {
		c.Status = domain.StatusSyncing
	})
}

func (r *MemoryOutboxRepository) MarkSent(_ context.Context, id uuid.UUID) error {
	return r.transition(id, []domain.CommandStatus{domain.StatusSyncing}, func(c *domain.OutboxCommand) {
		c.Status = domain.StatusSent
		c.LastError = nil
	})
}

func (r *MemoryOutboxRepository) MarkFailedRetryable(_ context.Context, id uuid.UUID, cause string) error {
	return r.transition(id, []domain.CommandStatus{domain.StatusSyncing}, func(c *domain.OutboxCommand) {
		c.Status = domain.StatusPending
		c.Attempts++
		c.LastError = &cause
	})
}

func (r *MemoryOutboxRepository) MarkFailedPermanent(_ context.Context, id uuid.UUID, cause string) error {
	return r.transition(id, []domain.CommandStatus{domain.StatusSyncing, domain.StatusPending}, func(c *domain.OutboxCommand) {
		c.Status = domain.StatusFailed
		c.Attempts++
		c.LastError = &cause
	})
}

func (r *MemoryOutboxRepository) MarkConflict(_ context.Context, id uuid.UUID, info domain.ConflictInfo) error {
	return r.transition(id, []domain.CommandStatus{domain.StatusSyncing}, func(c *domain.OutboxCommand) {
		c.Status = domain.StatusFailed
		c.Conflict = &info
		if info.Message != "" {
			msg := info.Message
			c.LastError = &msg
		}
	})
}

func (r *MemoryOutboxRepository) FindByIdempotencyKey(_ context.Context, workspaceID, key string) (*domain.OutboxCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return nil, err
	}
	for _, row := range r.rows {
		if row.cmd.WorkspaceID == workspaceID && row.cmd.IdempotencyKey == key {
			return clone(row.cmd), nil
		}
	}
	return nil, nil
}

func (r *MemoryOutboxRepository) ListByWorkspace(_ context.Context, workspaceID string, statuses ...domain.CommandStatus) ([]*domain.OutboxCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return nil, err
	}
	var rows []*memoryRow
	for _, row := range r.rows {
		if row.cmd.WorkspaceID != workspaceID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if row.cmd.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return earlier(rows[i], rows[j]) })
	out := make([]*domain.OutboxCommand, 0, len(rows))
	for _, row := range rows {
		out = append(out, clone(row.cmd))
	}
	return out, nil
}

func (r *MemoryOutboxRepository) RequeueStuckSyncing(_ context.Context, workspaceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return 0, err
	}
	n := 0
	for _, row := range r.rows {
		if row.cmd.WorkspaceID == workspaceID && row.cmd.Status == domain.StatusSyncing {
			row.cmd.Status = domain.StatusPending
			n++
		}
	}
	return n, nil
}

func (r *MemoryOutboxRepository) PendingCount(_ context.Context, workspaceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return 0, err
	}
	n := 0
	for _, row := range r.rows {
		if row.cmd.WorkspaceID == workspaceID && row.cmd.Status == domain.StatusPending {
			n++
		}
	}
	return n, nil
}

func (r *MemoryOutboxRepository) PurgeSent(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext(); err != nil {
		return 0, err
	}
	n := 0
	for id, row := range r.rows {
		if row.cmd.Status == domain.StatusSent && row.cmd.CreatedAtUtc.Before(olderThan) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// Get returns a snapshot of one command, for tests.
func (r *MemoryOutboxRepository) Get(id uuid.UUID) *domain.OutboxCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	return clone(row.cmd)
}
