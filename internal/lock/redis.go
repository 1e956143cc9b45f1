package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when this process still owns it, so an
// expired lock re-acquired by another worker is never released by us.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisLocker implements Locker on a shared Redis, usable across worker
// processes.
type RedisLocker struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		tokens: make(map[string]string),
	}
}

// NewRedisClient creates a Redis client with bounded timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return ErrNotAcquired
	}
	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}
