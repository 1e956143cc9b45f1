package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process Locker, the fallback when no Redis address is
// configured (single-worker deployments) and the tool of choice in tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return ErrNotAcquired
	}
	l.held[key] = now.Add(ttl)
	return nil
}

func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
