package application

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
	dbinfra "github.com/Corely-AI/pos-outbox-go/internal/infrastructure/db"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueuePersistsPendingCommand(t *testing.T) {
	repo := dbinfra.NewMemoryOutboxRepository()
	svc := NewEnqueueService(newPOSRegistry(t), repo, discardLogger())

	payload := saleFinalizeJSON(t, nil)
	cmd, err := svc.Enqueue(context.Background(), "W1", domain.TypeSaleFinalize, payload, "sale:S1:finalize:v1")
	require.NoError(t, err)
	require.NotNil(t, cmd)

	stored := repo.Get(cmd.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, "sale:S1:finalize:v1", stored.IdempotencyKey)
	assert.Equal(t, 0, stored.Attempts)

	// The normalized payload is what gets stored.
	var p domain.SaleFinalizePayload
	require.NoError(t, json.Unmarshal(stored.Payload, &p))
	assert.Equal(t, "USD", p.Currency)
}

func TestEnqueueDuplicateKeyReturnsExisting(t *testing.T) {
	repo := dbinfra.NewMemoryOutboxRepository()
	svc := NewEnqueueService(newPOSRegistry(t), repo, discardLogger())
	ctx := context.Background()

	payload := saleFinalizeJSON(t, nil)
	first, err := svc.Enqueue(ctx, "W1", domain.TypeSaleFinalize, payload, "sale:S1:finalize:v1")
	require.NoError(t, err)

	second, err := svc.Enqueue(ctx, "W1", domain.TypeSaleFinalize, payload, "sale:S1:finalize:v1")
	assert.ErrorIs(t, err, domain.ErrDuplicateCommand)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	n, err := repo.PendingCount(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueSameKeyDifferentWorkspaces(t *testing.T) {
	repo := dbinfra.NewMemoryOutboxRepository()
	svc := NewEnqueueService(newPOSRegistry(t), repo, discardLogger())
	ctx := context.Background()

	payload := saleFinalizeJSON(t, nil)
	_, err := svc.Enqueue(ctx, "W1", domain.TypeSaleFinalize, payload, "sale:S1:finalize:v1")
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "W2", domain.TypeSaleFinalize, payload, "sale:S1:finalize:v1")
	assert.NoError(t, err)
}

func TestEnqueueInvalidPayloadNeverPersisted(t *testing.T) {
	repo := dbinfra.NewMemoryOutboxRepository()
	svc := NewEnqueueService(newPOSRegistry(t), repo, discardLogger())
	ctx := context.Background()

	payload := saleFinalizeJSON(t, func(m map[string]any) {
		delete(m, "lines")
	})
	cmd, err := svc.Enqueue(ctx, "W1", domain.TypeSaleFinalize, payload, "sale:S1:finalize:v1")

	var ipe *domain.InvalidPayloadError
	assert.ErrorAs(t, err, &ipe)
	assert.Nil(t, cmd)

	n, countErr := repo.PendingCount(ctx, "W1")
	require.NoError(t, countErr)
	assert.Equal(t, 0, n)
}

func TestEnqueueRequiresWorkspaceAndKey(t *testing.T) {
	repo := dbinfra.NewMemoryOutboxRepository()
	svc := NewEnqueueService(newPOSRegistry(t), repo, discardLogger())
	ctx := context.Background()
	payload := saleFinalizeJSON(t, nil)

	_, err := svc.Enqueue(ctx, "", domain.TypeSaleFinalize, payload, "sale:S1:finalize:v1")
	assert.Error(t, err)

	_, err = svc.Enqueue(ctx, "W1", domain.TypeSaleFinalize, payload, "")
	assert.ErrorIs(t, err, domain.ErrMalformedIdempotencyKey)
}

func TestEnqueueRejectsMalformedKey(t *testing.T) {
	repo := dbinfra.NewMemoryOutboxRepository()
	svc := NewEnqueueService(newPOSRegistry(t), repo, discardLogger())
	ctx := context.Background()
	payload := saleFinalizeJSON(t, nil)

	for _, key := range []string{"sale-S1-finalize", "sale:S1:finalize", "sale:S1:finalize:1"} {
		_, err := svc.Enqueue(ctx, "W1", domain.TypeSaleFinalize, payload, key)
		assert.ErrorIs(t, err, domain.ErrMalformedIdempotencyKey, "key %q", key)
	}

	n, err := repo.PendingCount(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
