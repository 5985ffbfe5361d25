package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteOutboxRepository is the on-device adapter. Every mutation is a single
// statement, so a crash leaves either the full record or none. Status guards
// in the WHERE clause double as the dispatch race protection.
type SQLiteOutboxRepository struct {
	db *sql.DB
}

func NewSQLiteOutboxRepository(db *sql.DB) (*SQLiteOutboxRepository, error) {
	r := &SQLiteOutboxRepository{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteOutboxRepository) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS outbox_commands (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		created_at_utc TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		conflict_json TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_workspace_key
		ON outbox_commands(workspace_id, idempotency_key);
	CREATE INDEX IF NOT EXISTS idx_outbox_workspace_status
		ON outbox_commands(workspace_id, status, created_at_utc);`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

// sqliteTimeLayout pads fractional seconds to fixed width so the lexicographic
// order of the stored text matches chronological order. RFC3339Nano trims
// trailing zeros, which breaks string comparison ("...00.5Z" > "...00.5123Z").
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func (r *SQLiteOutboxRepository) Enqueue(ctx context.Context, cmd *domain.OutboxCommand) error {
	q := `
		INSERT INTO outbox_commands
		(id, workspace_id, type, payload_json, idempotency_key, created_at_utc, status, attempts, last_error, conflict_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`
	_, err := r.db.ExecContext(ctx, q,
		cmd.ID.String(),
		cmd.WorkspaceID,
		cmd.Type,
		string(cmd.Payload),
		cmd.IdempotencyKey,
		cmd.CreatedAtUtc.UTC().Format(sqliteTimeLayout),
		string(cmd.Status),
		cmd.Attempts,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateCommand, cmd.IdempotencyKey)
		}
		return storageErr("enqueue", err)
	}
	return nil
}

// Ordering is created_at then rowid, so two commands created in the same
// instant still drain in insertion order.
func (r *SQLiteOutboxRepository) NextPending(ctx context.Context, workspaceID string) (*domain.OutboxCommand, error) {
	q := selectColumns + `
		WHERE workspace_id = ? AND status = ?
		ORDER BY created_at_utc ASC, rowid ASC
		LIMIT 1`
	row := r.db.QueryRowContext(ctx, q, workspaceID, string(domain.StatusPending))
	cmd, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("next pending", err)
	}
	return cmd, nil
}

func (r *SQLiteOutboxRepository) MarkSyncing(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE outbox_commands SET status = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusSyncing), id.String(), string(domain.StatusPending))
	if err != nil {
		return storageErr("mark syncing", err)
	}
	return r.checkTransition(ctx, res, id, domain.ErrNotPending)
}

func (r *SQLiteOutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE outbox_commands SET status = ?, last_error = NULL WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusSent), id.String(), string(domain.StatusSyncing))
	if err != nil {
		return storageErr("mark sent", err)
	}
	return r.checkTransition(ctx, res, id, domain.ErrNotPending)
}

func (r *SQLiteOutboxRepository) MarkFailedRetryable(ctx context.Context, id uuid.UUID, cause string) error {
	q := `
		UPDATE outbox_commands
		SET status = ?, attempts = attempts + 1, last_error = ?
		WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusPending), cause, id.String(), string(domain.StatusSyncing))
	if err != nil {
		return storageErr("mark failed retryable", err)
	}
	return r.checkTransition(ctx, res, id, domain.ErrNotPending)
}

func (r *SQLiteOutboxRepository) MarkFailedPermanent(ctx context.Context, id uuid.UUID, cause string) error {
	q := `
		UPDATE outbox_commands
		SET status = ?, attempts = attempts + 1, last_error = ?
		WHERE id = ? AND status IN (?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		string(domain.StatusFailed), cause, id.String(),
		string(domain.StatusSyncing), string(domain.StatusPending))
	if err != nil {
		return storageErr("mark failed permanent", err)
	}
	return r.checkTransition(ctx, res, id, domain.ErrNotPending)
}

func (r *SQLiteOutboxRepository) MarkConflict(ctx context.Context, id uuid.UUID, info domain.ConflictInfo) error {
	conflictJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}
	q := `
		UPDATE outbox_commands
		SET status = ?, conflict_json = ?, last_error = ?
		WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(domain.StatusFailed), string(conflictJSON), info.Message,
		id.String(), string(domain.StatusSyncing))
	if err != nil {
		return storageErr("mark conflict", err)
	}
	return r.checkTransition(ctx, res, id, domain.ErrNotPending)
}

func (r *SQLiteOutboxRepository) FindByIdempotencyKey(ctx context.Context, workspaceID, key string) (*domain.OutboxCommand, error) {
	q := selectColumns + ` WHERE workspace_id = ? AND idempotency_key = ?`
	row := r.db.QueryRowContext(ctx, q, workspaceID, key)
	cmd, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find by idempotency key", err)
	}
	return cmd, nil
}

func (r *SQLiteOutboxRepository) ListByWorkspace(ctx context.Context, workspaceID string, statuses ...domain.CommandStatus) ([]*domain.OutboxCommand, error) {
	q := selectColumns + ` WHERE workspace_id = ?`
	args := []any{workspaceID}
	if len(statuses) > 0 {
		q += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	q += ` ORDER BY created_at_utc ASC, rowid ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list by workspace", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.OutboxCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
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

func (r *SQLiteOutboxRepository) RequeueStuckSyncing(ctx context.Context, workspaceID string) (int, error) {
	q := `UPDATE outbox_commands SET status = ? WHERE workspace_id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusPending), workspaceID, string(domain.StatusSyncing))
	if err != nil {
		return 0, storageErr("requeue stuck syncing", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SQLiteOutboxRepository) PendingCount(ctx context.Context, workspaceID string) (int, error) {
	q := `SELECT COUNT(*) FROM outbox_commands WHERE workspace_id = ? AND status = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, q, workspaceID, string(domain.StatusPending)).Scan(&n); err != nil {
		return 0, storageErr("pending count", err)
	}
	return n, nil
}

func (r *SQLiteOutboxRepository) PurgeSent(ctx context.Context, olderThan time.Time) (int, error) {
	q := `DELETE FROM outbox_commands WHERE status = ? AND created_at_utc < ?`
	res, err := r.db.ExecContext(ctx, q, string(domain.StatusSent), olderThan.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, storageErr("purge sent", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// checkTransition maps a zero-row UPDATE to the right domain error: the
// command either does not exist or is not in the guarded status.
func (r *SQLiteOutboxRepository) checkTransition(ctx context.Context, res sql.Result, id uuid.UUID, stateErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_commands WHERE id = ?`, id.String()).Scan(&exists)
	if err != nil {
		return storageErr("transition check", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCommandNotFound, id)
	}
	return fmt.Errorf("%w: %s", stateErr, id)
}

const selectColumns = `
	SELECT id, workspace_id, type, payload_json, idempotency_key, created_at_utc, status, attempts, last_error, conflict_json
	FROM outbox_commands`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*domain.OutboxCommand, error) {
	var (
		idStr        string
		workspaceID  string
		cmdType      string
		payloadJSON  string
		key          string
		createdAt    string
		status       string
		attempts     int
		lastError    sql.NullString
		conflictJSON sql.NullString
	)
	if err := row.Scan(&idStr, &workspaceID, &cmdType, &payloadJSON, &key, &createdAt, &status, &attempts, &lastError, &conflictJSON); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt command id %q: %w", idStr, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt timestamp in command %s: %w", idStr, err)
	}

	cmd := &domain.OutboxCommand{
		ID:             id,
		WorkspaceID:    workspaceID,
		Type:           cmdType,
		Payload:        json.RawMessage(payloadJSON),
		IdempotencyKey: key,
		CreatedAtUtc:   ts,
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
			return nil, fmt.Errorf("corrupt conflict JSON in command %s: %w", idStr, err)
		}
		cmd.Conflict = &info
	}
	return cmd, nil
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
