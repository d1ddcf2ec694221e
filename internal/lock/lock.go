// Package lock serializes work per key across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the wait budget elapses before the key frees up.
var ErrNotAcquired = errors.New("lock: not acquired")

// pollInterval paces retries while waiting on a held key.
const pollInterval = 50 * time.Millisecond

// Release gives a held lock back. It is safe to call after the TTL expired.
type Release func(ctx context.Context) error

// Locker hands out mutually exclusive, expiring locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error)
}

// waitFor retries try until it succeeds, the wait budget runs out or ctx ends.
func waitFor(ctx context.Context, wait time.Duration, try func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
