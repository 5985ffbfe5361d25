package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxRepository is the durable per-workspace command queue. Every mutation
// must be crash-atomic; adapters wrap driver failures in ErrStorageUnavailable.
type OutboxRepository interface {
	// Enqueue persists a new PENDING command.
	Enqueue(ctx context.Context, cmd *OutboxCommand) error

	// NextPending returns the oldest PENDING command for the workspace,
	// or nil when the queue is drained.
	NextPending(ctx context.Context, workspaceID string) (*OutboxCommand, error)

	// MarkSyncing transitions PENDING -> SYNCING. Returns ErrNotPending when
	// the command is in any other status (double-dispatch guard).
	MarkSyncing(ctx context.Context, id uuid.UUID) error

	// MarkSent transitions SYNCING -> SENT (terminal).
	MarkSent(ctx context.Context, id uuid.UUID) error

	// MarkFailedRetryable increments attempts, records the cause and puts the
	// command back to PENDING. The backoff delay is the engine's business.
	MarkFailedRetryable(ctx context.Context, id uuid.UUID, cause string) error

	// MarkFailedPermanent transitions to terminal FAILED.
	MarkFailedPermanent(ctx context.Context, id uuid.UUID, cause string) error

	// MarkConflict records the server-reported conflict and moves the command
	// to FAILED. Conflicted commands are never resubmitted automatically.
	MarkConflict(ctx context.Context, id uuid.UUID, info ConflictInfo) error

	FindByIdempotencyKey(ctx context.Context, workspaceID, key string) (*OutboxCommand, error)

	// ListByWorkspace returns commands ordered by creation, optionally
	// filtered by status.
	ListByWorkspace(ctx context.Context, workspaceID string, statuses ...CommandStatus) ([]*OutboxCommand, error)

	// RequeueStuckSyncing flips SYNCING leftovers from a crashed run back to
	// PENDING. The idempotency key makes resubmission safe.
	RequeueStuckSyncing(ctx context.Context, workspaceID string) (int, error)

	PendingCount(ctx context.Context, workspaceID string) (int, error)

	// PurgeSent deletes terminal SENT commands created before the cutoff.
	PurgeSent(ctx context.Context, olderThan time.Time) (int, error)
}

// SyncLock serializes sync passes per workspace. A lock is considered free
// once its TTL has elapsed regardless of Release, which is the recovery path
// for a crashed holder. Release is idempotent.
type SyncLock interface {
	Acquire(ctx context.Context, workspaceID string) (bool, error)
	Release(ctx context.Context, workspaceID string) error
}

// SubmitResult is the decoded server answer for an accepted or conflicted
// command. Transport and validation failures travel as errors instead.
type SubmitResult struct {
	// ServerState carries the canonical state returned on success, if any.
	ServerState json.RawMessage
	// Conflict is non-nil when the server reported a business-state
	// disagreement rather than accepting or rejecting the command.
	Conflict *ConflictInfo
}

// CommandSubmitter is the client of the server command-acceptance endpoint.
// The endpoint is idempotent keyed on the command's idempotency key.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd *OutboxCommand) (*SubmitResult, error)
}

type NetworkStatus string

const (
	NetworkOnline  NetworkStatus = "ONLINE"
	NetworkOffline NetworkStatus = "OFFLINE"
)

// NetworkMonitor exposes the cached connectivity state and transition
// subscriptions. Status never blocks on a live probe.
type NetworkMonitor interface {
	Status() NetworkStatus
	// Subscribe registers a callback invoked on every status transition and
	// returns an idempotent unsubscribe, safe to call from the callback.
	Subscribe(fn func(NetworkStatus)) (unsubscribe func())
}
