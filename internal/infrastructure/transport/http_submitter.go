// Package transport implements the client of the server command-acceptance
// endpoint. The endpoint is idempotent keyed on the idempotency key; this
// side only has to classify its answers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

const submitTimeout = 15 * time.Second

type commandRequest struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	WorkspaceID    string          `json:"workspaceId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
}

type acceptedResponse struct {
	State json.RawMessage `json:"state,omitempty"`
}

type conflictResponse struct {
	ServerVersion *int64          `json:"serverVersion,omitempty"`
	ServerState   json.RawMessage `json:"serverState,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// HTTPSubmitter posts commands to {baseURL}/api/commands. Response mapping:
// 2xx accepted, 409 conflict, other 4xx permanent rejection, 5xx and
// network-class failures retryable.
type HTTPSubmitter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSubmitter(baseURL string) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: submitTimeout},
	}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, cmd *domain.OutboxCommand) (*domain.SubmitResult, error) {
	body, err := json.Marshal(commandRequest{
		IdempotencyKey: cmd.IdempotencyKey,
		WorkspaceID:    cmd.WorkspaceID,
		Type:           cmd.Type,
		Payload:        cmd.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/commands", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", cmd.IdempotencyKey)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var accepted acceptedResponse
		// Servers may answer with an empty body; state is optional.
		_ = json.Unmarshal(respBody, &accepted)
		return &domain.SubmitResult{ServerState: accepted.State}, nil

	case resp.StatusCode == http.StatusConflict:
		var conflict conflictResponse
		if err := json.Unmarshal(respBody, &conflict); err != nil {
			conflict.Message = strings.TrimSpace(string(respBody))
		}
		return &domain.SubmitResult{Conflict: &domain.ConflictInfo{
			ServerVersion: conflict.ServerVersion,
			ServerState:   conflict.ServerState,
			Message:       conflict.Message,
		}}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &domain.ServerValidationError{
			Status: resp.StatusCode,
			Detail: strings.TrimSpace(string(respBody)),
		}

	default:
		return nil, &domain.TransportError{
			Err: fmt.Errorf("server returned %d", resp.StatusCode),
		}
	}
}
