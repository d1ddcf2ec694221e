package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker constructs a locker namespacing keys under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "outbound:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire blocks up to wait for key to become free, then holds it for ttl.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	full := l.prefix + key
	token := uuid.NewString()

	err := waitFor(ctx, wait, func(ctx context.Context) (bool, error) {
		ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("lock acquire %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil {
			return fmt.Errorf("lock release %s: %w", key, err)
		}
		return nil
	}, nil
}
