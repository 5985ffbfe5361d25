package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

func TestMemoryFIFOOrdering(t *testing.T) {
	repo := NewMemoryOutboxRepository()
	ctx := context.Background()

	now := time.Now().UTC()
	first := newTestCommand("W1", "k:1:a:v1")
	first.CreatedAtUtc = now
	second := newTestCommand("W1", "k:2:a:v1")
	second.CreatedAtUtc = now
	require.NoError(t, repo.Enqueue(ctx, first))
	require.NoError(t, repo.Enqueue(ctx, second))

	head, err := repo.NextPending(ctx, "W1")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, first.ID, head.ID, "insertion order breaks the timestamp tie")
}

func TestMemoryTransitionGuards(t *testing.T) {
	repo := NewMemoryOutboxRepository()
	ctx := context.Background()

	cmd := newTestCommand("W1", "k:1:a:v1")
	require.NoError(t, repo.Enqueue(ctx, cmd))

	assert.ErrorIs(t, repo.MarkSent(ctx, cmd.ID), domain.ErrNotPending)
	require.NoError(t, repo.MarkSyncing(ctx, cmd.ID))
	assert.ErrorIs(t, repo.MarkSyncing(ctx, cmd.ID), domain.ErrNotPending)
	require.NoError(t, repo.MarkFailedRetryable(ctx, cmd.ID, "boom"))

	got := repo.Get(cmd.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	phantom := newTestCommand("W1", "k:2:a:v1")
	assert.ErrorIs(t, repo.MarkSyncing(ctx, phantom.ID), domain.ErrCommandNotFound)
}

func TestMemoryFailNextIsSingleShot(t *testing.T) {
	repo := NewMemoryOutboxRepository()
	ctx := context.Background()

	repo.FailNext = true
	_, err := repo.NextPending(ctx, "W1")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, err = repo.NextPending(ctx, "W1")
	assert.NoError(t, err)
}

func TestMemorySnapshotsAreIsolated(t *testing.T) {
	repo := NewMemoryOutboxRepository()
	ctx := context.Background()

	cmd := newTestCommand("W1", "k:1:a:v1")
	require.NoError(t, repo.Enqueue(ctx, cmd))

	got, err := repo.NextPending(ctx, "W1")
	require.NoError(t, err)
	got.Status = domain.StatusFailed

	// Mutating a returned command must not touch the stored row.
	assert.Equal(t, domain.StatusPending, repo.Get(cmd.ID).Status)
}
