package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foodbridge/notify-gateway/internal/lock"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when the stored token matches, so a
// holder whose TTL expired cannot release a lock re-acquired by someone else.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.KeyLock = (*RedisKeyLock)(nil)

// RedisKeyLock is a best-effort distributed lock used to serialize concurrent
// dispatches that carry the same idempotency key.
type RedisKeyLock struct {
	client *goredis.Client
	token  string
	script *goredis.Script
}

func NewRedisKeyLock(client *goredis.Client) (*RedisKeyLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &RedisKeyLock{
		client: client,
		token:  uuid.NewString(),
		script: releaseScript,
	}, nil
}

func (l *RedisKeyLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("key lock is not initialized")
	}

	normalized := normalizeLockKey(key)
	if normalized == "" {
		return false, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}

	acquired, err := l.client.SetNX(ctx, normalized, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	return acquired, nil
}

func (l *RedisKeyLock) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil || l.script == nil {
		return fmt.Errorf("key lock is not initialized")
	}

	normalized := normalizeLockKey(key)
	if normalized == "" {
		return fmt.Errorf("lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := l.script.Run(ctx, l.client, []string{normalized}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release dispatch lock: %w", err)
	}
	return nil
}

func normalizeLockKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	return "dispatchlock:" + trimmed
}
