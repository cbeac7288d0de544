// Package lock provides the per-key mutual exclusion the task layer needs
// to serialize allocation runs for one (account, time bucket). The lock is
// advisory: fail closed, never treat a provider failure as acquired.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock is currently held elsewhere. Not
// an error condition for callers; tasks reschedule silently.
var ErrNotAcquired = errors.New("lock: not acquired")

// Release frees a held lock. Safe to call once; releasing after the TTL
// expired is a no-op.
type Release func(ctx context.Context) error

// Locker hands out advisory leases on string keys.
type Locker interface {
	// Acquire attempts to take the lock once. It returns ErrNotAcquired when
	// the key is held, and the provider's error when the provider itself is
	// unavailable — the caller must treat both as "not acquired".
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}
