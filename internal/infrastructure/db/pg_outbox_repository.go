package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// PgOutboxRepository is the server-side table variant of the outbox store,
// for hosts that run the engine next to a Postgres instance instead of an
// on-device database. Open the *sql.DB with the pgx stdlib driver.
type PgOutboxRepository struct {
	db *sql.DB
}

func NewPgOutboxRepository(db *sql.DB) *PgOutboxRepository {
	return &PgOutboxRepository{db: db}
}

// Migrate creates the outbox table. Callers that manage schemas externally
// can skip it.
func (r *PgOutboxRepository) Migrate(ctx context.Context) error {
	q := `
	CREATE TABLE IF NOT EXISTS outbox_commands (
		id UUID PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload_json JSONB NOT NULL,
		idempotency_key TEXT NOT NULL,
		created_at_utc TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL,
		status TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		conflict_json JSONB,
		UNIQUE (workspace_id, idempotency_key)
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_commands_ws_status
		ON outbox_commands(workspace_id, status, created_at_utc);`
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

func (r *PgOutboxRepository) Enqueue(ctx context.Context, cmd *domain.OutboxCommand) error {
	q := `
		INSERT INTO outbox_commands
		(id, workspace_id, type, payload_json, idempotency_key, created_at_utc, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, q,
		cmd.ID,
		cmd.WorkspaceID,
		cmd.Type,
		string(cmd.Payload),
		cmd.IdempotencyKey,
		cmd.CreatedAtUtc.UTC(),
		string(cmd.Status),
		cmd.Attempts,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateCommand, cmd.IdempotencyKey)
		}
		return storageErr("enqueue", err)
	}
	return nil
}

func (r *PgOutboxRepository) NextPending(ctx context.Context, workspaceID string) (*domain.OutboxCommand, error) {
	q := pgSelectColumns + `
		WHERE workspace_id = $1 AND status = $2
		ORDER BY created_at_utc ASC, seq ASC
		LIMIT 1`
	row := r.db.QueryRowContext(ctx, q, workspaceID, string(domain.StatusPending))
	cmd, err := scanPgCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("next pending", err)
	}
	return cmd, nil
}

func (r *PgOutboxRepository) MarkSyncing(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE outbox_commands SET status = $1 WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusSyncing), id, string(domain.StatusPending))
	if err != nil {
		return storageErr("mark syncing", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PgOutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE outbox_commands SET status = $1, last_error = NULL WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusSent), id, string(domain.StatusSyncing))
	if err != nil {
		return storageErr("mark sent", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PgOutboxRepository) MarkFailedRetryable(ctx context.Context, id uuid.UUID, cause string) error {
	q := `
		UPDATE outbox_commands
		SET status = $1, attempts = attempts + 1, last_error = $2
		WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusPending), cause, id, string(domain.StatusSyncing))
	if err != nil {
		return storageErr("mark failed retryable", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PgOutboxRepository) MarkFailedPermanent(ctx context.Context, id uuid.UUID, cause string) error {
	q := `
		UPDATE outbox_commands
		SET status = $1, attempts = attempts + 1, last_error = $2
		WHERE id = $3 AND status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, q,
		string(domain.StatusFailed), cause, id,
		string(domain.StatusSyncing), string(domain.StatusPending))
	if err != nil {
		return storageErr("mark failed permanent", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PgOutboxRepository) MarkConflict(ctx context.Context, id uuid.UUID, info domain.ConflictInfo) error {
	conflictJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}
	q := `
		UPDATE outbox_commands
		SET status = $1, conflict_json = $2, last_error = $3
		WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, q,
		string(domain.StatusFailed), string(conflictJSON), info.Message,
		id, string(domain.StatusSyncing))
	if err != nil {
		return storageErr("mark conflict", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *PgOutboxRepository) FindByIdempotencyKey(ctx context.Context, workspaceID, key string) (*domain.OutboxCommand, error) {
	q := pgSelectColumns + ` WHERE workspace_id = $1 AND idempotency_key = $2`
	row := r.db.QueryRowContext(ctx, q, workspaceID, key)
	cmd, err := scanPgCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find by idempotency key", err)
	}
	return cmd, nil
}

func (r *PgOutboxRepository) ListByWorkspace(ctx context.Context, workspaceID string, statuses ...domain.CommandStatus) ([]*domain.OutboxCommand, error) {
	q := pgSelectColumns + ` WHERE workspace_id = $1`
	args := []any{workspaceID}
	if len(statuses) > 0 {
		q += ` AND status = ANY($2)`
		ss := make([]string, 0, len(statuses))
		for _, s := range statuses {
			ss = append(ss, string(s))
		}
		args = append(args, ss)
	}
	q += ` ORDER BY created_at_utc ASC, seq ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list by workspace", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.OutboxCommand
	for rows.Next() {
		cmd, err := scanPgCommand(rows)
		if err != nil {
			return nil, storageErr("list by workspace", err)
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list by workspace", err)
	}
	return out, nil
}

func (r *PgOutboxRepository) RequeueStuckSyncing(ctx context.Context, workspaceID string) (int, error) {
	q := `UPDATE outbox_commands SET status = $1 WHERE workspace_id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusPending), workspaceID, string(domain.StatusSyncing))
	if err != nil {
		return 0, storageErr("requeue stuck syncing", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PgOutboxRepository) PendingCount(ctx context.Context, workspaceID string) (int, error) {
	q := `SELECT COUNT(*) FROM outbox_commands WHERE workspace_id = $1 AND status = $2`
	var n int
	if err := r.db.QueryRowContext(ctx, q, workspaceID, string(domain.StatusPending)).Scan(&n); err != nil {
		return 0, storageErr("pending count", err)
	}
	return n, nil
}

func (r *PgOutboxRepository) PurgeSent(ctx context.Context, olderThan time.Time) (int, error) {
	q := `DELETE FROM outbox_commands WHERE status = $1 AND created_at_utc < $2`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusSent), olderThan.UTC())
	if err != nil {
		return 0, storageErr("purge sent", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PgOutboxRepository) checkTransition(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_commands WHERE id = $1`, id).Scan(&exists)
	if err != nil {
		return storageErr("transition check", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCommandNotFound, id)
	}
	return fmt.Errorf("%w: %s", domain.ErrNotPending, id)
}

const pgSelectColumns = `
	SELECT id, workspace_id, type, payload_json::text, idempotency_key, created_at_utc, status, attempts, last_error, conflict_json::text
	FROM outbox_commands`

func scanPgCommand(row rowScanner) (*domain.OutboxCommand, error) {
	var (
		id           uuid.UUID
		workspaceID  string
		cmdType      string
		payloadJSON  string
		key          string
		createdAt    time.Time
		status       string
		attempts     int
		lastError    sql.NullString
		conflictJSON sql.NullString
	)
	if err := row.Scan(&id, &workspaceID, &cmdType, &payloadJSON, &key, &createdAt, &status, &attempts, &lastError, &conflictJSON); err != nil {
		return nil, err
	}

	cmd := &domain.OutboxCommand{
		ID:             id,
		WorkspaceID:    workspaceID,
		Type:           cmdType,
		Payload:        json.RawMessage(payloadJSON),
		IdempotencyKey: key,
		CreatedAtUtc:   createdAt.UTC(),
		Status:         domain.CommandStatus(status),
		Attempts:       attempts,
	}
	if lastError.Valid {
		s := lastError.String
		cmd.LastError = &s
	}
	if conflictJSON.Valid && conflictJSON.String != "" {
		var info domain.ConflictInfo
		if err := json.Unmarshal([]byte(conflictJSON.String), &info); err != nil {
			return nil, fmt.Errorf("corrupt conflict JSON in command %s: %w", id, err)
		}
		cmd.Conflict = &info
	}
	return cmd, nil
}
