// Package lock serialises work on a single cart across workers.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing/internal/tenant"
)

// ErrNotConfigured is returned when the locker has no Redis client.
var ErrNotConfigured = errors.New("lock: redis client not configured")

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Locker provides a Redis-backed distributed lock.
type Locker struct {
	R            redis.Cmdable
	RetryBackoff time.Duration
}

// CartKey is the lock key of an order within a store.
func CartKey(storeID, orderID string) string {
	return tenant.Key(storeID, "lock", "cart", orderID)
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released even if fn returns an error. When the lock cannot be acquired
// before the context is cancelled the context error is returned.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer l.release(context.WithoutCancel(ctx), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// WithCartLock runs fn while holding the lock of one cart.
func (l Locker) WithCartLock(ctx context.Context, storeID, orderID string, ttl time.Duration, fn func(context.Context) error) error {
	return l.WithLock(ctx, CartKey(storeID, orderID), ttl, fn)
}

func (l Locker) release(ctx context.Context, key, token string) {
	_ = releaseScript.Run(ctx, l.R, []string{key}, token).Err()
}
