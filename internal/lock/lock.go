// Package lock provides short-lived mutual exclusion across worker instances.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired means another holder owns the key. Callers treat this as an
// expected skip signal, not a failure.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker is a TTL-based mutual exclusion primitive. Acquire either takes the
// key or returns ErrNotAcquired; the TTL guards against holders that died
// without releasing.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
