package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/postpilot-io/postpilot/internal/domain"
)

const keyPrefix = "postpilot:lock:"

// releaseScript deletes the lock only if the caller still holds it.
// Compare-and-delete must be atomic; a plain GET+DEL could release a lock
// that expired and was re-acquired between the two calls.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// RedisManager implements Manager using a single redis key per tenant
// (SET NX with a TTL and a random holder token).
type RedisManager struct {
	client *redis.Client
	retry  time.Duration
}

// NewRedisManager creates a redis-backed lock manager.
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{
		client: client,
		retry:  50 * time.Millisecond,
	}
}

func lockKey(key domain.TenantKey) string {
	return keyPrefix + key.String()
}

// Acquire polls SET NX until it wins or the wait window expires.
func (m *RedisManager) Acquire(ctx context.Context, key domain.TenantKey, ttl, wait time.Duration) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := m.client.SetNX(ctx, lockKey(key), token, ttl).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if !time.Now().Before(deadline) {
			return "", ErrBusy
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.retry):
		}
	}
}

func (m *RedisManager) Release(ctx context.Context, key domain.TenantKey, token string) error {
	// Result 0 means the token no longer matched; that is a stale release
	// after expiry, deliberately treated as success.
	return releaseScript.Run(ctx, m.client, []string{lockKey(key)}, token).Err()
}

var _ Manager = (*RedisManager)(nil)
