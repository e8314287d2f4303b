package lock

import (
	"context"
	"time"
)

// KeyLock serializes dispatches that share an idempotency key across gateway
// instances. Acquire returns false when another holder already owns the key.
type KeyLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
