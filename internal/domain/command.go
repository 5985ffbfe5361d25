package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CommandStatus string

const (
	StatusPending CommandStatus = "PENDING"
	StatusSyncing CommandStatus = "SYNCING"
	StatusSent    CommandStatus = "SENT"
	StatusFailed  CommandStatus = "FAILED"
)

// ConflictInfo is the envelope the server uses to report that a command was
// understood but cannot be applied as submitted. It is a decision for the
// issuing feature, not an error the engine retries.
type ConflictInfo struct {
	ServerVersion *int64          `json:"serverVersion,omitempty"`
	ServerState   json.RawMessage `json:"serverState,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// OutboxCommand is one durable queue entry. CommandID identifies the entry
// locally; IdempotencyKey identifies the business effect on the server and
// never changes across retries.
type OutboxCommand struct {
	ID             uuid.UUID
	WorkspaceID    string
	Type           string
	Payload        json.RawMessage
	IdempotencyKey string
	CreatedAtUtc   time.Time
	Status         CommandStatus
	Attempts       int
	LastError      *string
	Conflict       *ConflictInfo
}

func NewOutboxCommand(workspaceID, cmdType string, payload json.RawMessage, idempotencyKey string) *OutboxCommand {
	return &OutboxCommand{
		ID:             uuid.New(),
		WorkspaceID:    workspaceID,
		Type:           cmdType,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		CreatedAtUtc:   time.Now().UTC(),
		Status:         StatusPending,
		Attempts:       0,
	}
}

// IsTerminal reports whether the command will never be submitted again.
func (c *OutboxCommand) IsTerminal() bool {
	return c.Status == StatusSent || c.Status == StatusFailed
}

// CanTransition encodes the monotone status machine:
// PENDING -> SYNCING -> (SENT | PENDING | FAILED). SENT and FAILED are terminal.
func (c *OutboxCommand) CanTransition(to CommandStatus) bool {
	switch c.Status {
	case StatusPending:
		return to == StatusSyncing
	case StatusSyncing:
		return to == StatusSent || to == StatusPending || to == StatusFailed
	default:
		return false
	}
}
