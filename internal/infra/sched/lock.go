package sched

import (
	"context"
	"errors"
	"time"

	"subscription-lifecycle/internal/infra/redis"
)

// runLocked runs fn while holding key. It reports false without error when
// another replica holds the lock. A nil locker runs fn unguarded.
func runLocked(ctx context.Context, locker redis.Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if locker == nil {
		return true, fn(ctx)
	}
	token, err := locker.TryLock(ctx, key, ttl)
	if errors.Is(err, redis.ErrLockHeld) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		// Release with a fresh context so shutdown does not leak the lock until TTL.
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = locker.Unlock(uctx, key, token)
	}()

	if ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}
	return true, fn(ctx)
}
