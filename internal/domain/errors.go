package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownCommandType means the registry has no definition for the
	// type. Treated as a programming/config error at enqueue time.
	ErrUnknownCommandType = errors.New("unknown command type")

	// ErrStorageUnavailable wraps driver-level failures of the outbox store.
	// The engine backs off and retries the drain instead of dropping work.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicateCommand means a command with the same idempotency key is
	// already queued or terminal in the workspace.
	ErrDuplicateCommand = errors.New("duplicate command for idempotency key")

	// ErrMalformedIdempotencyKey means the key does not follow the
	// "{kind}:{id}:{action}:v{n}" convention.
	ErrMalformedIdempotencyKey = errors.New("malformed idempotency key")

	// ErrNotPending guards against double-dispatch of a command that has
	// already been picked up.
	ErrNotPending = errors.New("command is not pending")

	ErrCommandNotFound = errors.New("command not found")
)

// FieldViolation is one structured schema validation failure.
type FieldViolation struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// InvalidPayloadError is a local validation failure at enqueue time. It never
// reaches the store and is surfaced synchronously to the caller.
type InvalidPayloadError struct {
	Type       string
	Violations []FieldViolation
}

func (e *InvalidPayloadError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("invalid payload for %s", e.Type)
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Detail))
	}
	return fmt.Sprintf("invalid payload for %s: %s", e.Type, strings.Join(parts, "; "))
}

// TransportError is a retryable submission failure: network-class errors and
// server 5xx responses.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerValidationError is a permanent 4xx rejection by the server. The
// command is marked FAILED and surfaced to the operator; the engine does not
// invent a repair.
type ServerValidationError struct {
	Status int
	Detail string
}

func (e *ServerValidationError) Error() string {
	return fmt.Sprintf("server rejected command (%d): %s", e.Status, e.Detail)
}

// IsRetryable reports whether the engine should retry after backoff rather
// than fail the command permanently.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrStorageUnavailable)
}
