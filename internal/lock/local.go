package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localHold
	now   func() time.Time
	token uint64
}

type localHold struct {
	token   uint64
	expires time.Time
}

// NewLocalLocker constructs an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localHold), now: time.Now}
}

// Acquire mirrors RedisLocker semantics, including expiry after ttl.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	var token uint64
	err := waitFor(ctx, wait, func(context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		now := l.now()
		if h, ok := l.held[key]; ok && now.Before(h.expires) {
			return false, nil
		}
		l.token++
		token = l.token
		l.held[key] = localHold{token: token, expires: now.Add(ttl)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
