package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// EnqueueService is the single entry point for new commands: validate and
// normalize the payload, reject duplicate idempotency keys, persist PENDING.
// A crash after Enqueue returns leaves the full record; before, none.
type EnqueueService struct {
	registry *Registry
	repo     domain.OutboxRepository
	logger   *slog.Logger
}

func NewEnqueueService(registry *Registry, repo domain.OutboxRepository, logger *slog.Logger) *EnqueueService {
	return &EnqueueService{
		registry: registry,
		repo:     repo,
		logger:   logger.With("component", "enqueue"),
	}
}

func (s *EnqueueService) Enqueue(
	ctx context.Context,
	workspaceID, cmdType string,
	payload json.RawMessage,
	idempotencyKey string,
) (*domain.OutboxCommand, error) {
	if workspaceID == "" {
		return nil, errors.New("missing workspaceId")
	}
	if !domain.ValidIdempotencyKey(idempotencyKey) {
		return nil, fmt.Errorf("%w: %q", domain.ErrMalformedIdempotencyKey, idempotencyKey)
	}

	normalized, err := s.registry.Validate(cmdType, payload)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, workspaceID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, fmt.Errorf("%w: %s", domain.ErrDuplicateCommand, idempotencyKey)
	}

	cmd := domain.NewOutboxCommand(workspaceID, cmdType, normalized, idempotencyKey)
	if err := s.repo.Enqueue(ctx, cmd); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "command queued",
		"commandId", cmd.ID.String(),
		"workspaceId", workspaceID,
		"type", cmdType,
	)
	return cmd, nil
}
