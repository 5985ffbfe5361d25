package locking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteLock stores lock records in the same device database as the outbox,
// so a killed process on a multi-tab host is recovered via TTL without any
// extra infrastructure.
type SQLiteLock struct {
	db    *sql.DB
	ttl   time.Duration
	owner string
	now   func() time.Time
}

func NewSQLiteLock(db *sql.DB, ttl time.Duration) (*SQLiteLock, error) {
	l := &SQLiteLock{
		db:    db,
		ttl:   ttl,
		owner: uuid.NewString(),
		now:   time.Now,
	}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLock) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS sync_locks (
		workspace_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		acquired_at_utc TEXT NOT NULL,
		ttl_ms INTEGER NOT NULL
	);`
	_, err := l.db.ExecContext(context.Background(), q)
	return err
}

func (l *SQLiteLock) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w: %w", domain.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		owner      string
		acquiredAt string
		ttlMs      int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, acquired_at_utc, ttl_ms FROM sync_locks WHERE workspace_id = ?`,
		workspaceID).Scan(&owner, &acquiredAt, &ttlMs)
	switch {
	case err == sql.ErrNoRows:
		// free
	case err != nil:
		return false, fmt.Errorf("lock acquire: %w: %w", domain.ErrStorageUnavailable, err)
	default:
		ts, parseErr := time.Parse(time.RFC3339Nano, acquiredAt)
		if parseErr == nil && l.now().Sub(ts) <= time.Duration(ttlMs)*time.Millisecond {
			return false, nil
		}
		// expired or corrupt record: steal it
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_locks (workspace_id, owner_id, acquired_at_utc, ttl_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			acquired_at_utc = excluded.acquired_at_utc,
			ttl_ms = excluded.ttl_ms`,
		workspaceID, l.owner, l.now().UTC().Format(time.RFC3339Nano), l.ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w: %w", domain.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("lock acquire: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return true, nil
}

// Release only deletes a record this instance owns; releasing a lock that
// expired and was stolen is a no-op.
func (l *SQLiteLock) Release(ctx context.Context, workspaceID string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM sync_locks WHERE workspace_id = ? AND owner_id = ?`,
		workspaceID, l.owner)
	if err != nil {
		return fmt.Errorf("lock release: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}
