package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// releaseScript deletes the lock only when this owner still holds it, so a
// slow holder never clears a lock that expired and was re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock backs the sync lock with a fast shared key-value layer, for
// deployments where several processes sync the same workspace. TTL expiry is
// native via PX.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

func lockKey(workspaceID string) string {
	return fmt.Sprintf("synclock:%s", workspaceID)
}

func (l *RedisLock) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(workspaceID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context, workspaceID string) error {
	err := releaseScript.Run(ctx, l.client, []string{lockKey(workspaceID)}, l.owner).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lock release: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}
