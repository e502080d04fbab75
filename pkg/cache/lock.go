package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "ledger:lock:"

// ErrLockNotAcquired is returned when the lock stays held past the wait.
var ErrLockNotAcquired = errors.New("cache: lock not acquired")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks keyed by name.
type Locker struct {
	client *Client
	ttl    time.Duration
	retry  time.Duration
}

// NewLocker creates a Locker. ttl is the lease of a held lock and retry
// the poll interval while waiting.
func NewLocker(client *Client, ttl, retry time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, retry: retry}
}

// Acquire waits up to wait for the lock and returns its release function.
func (l *Locker) Acquire(ctx context.Context, name string, wait time.Duration) (func(), error) {
	key := lockPrefix + name
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.Redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			return func() {
				// Release must run even if the caller's context is done.
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := releaseScript.Run(ctx, l.client.Redis, []string{key}, token).Err(); err != nil {
					l.client.logger.Warn("failed to release lock", "lock", name, "error", err)
				}
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
