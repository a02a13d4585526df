package shared

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotAcquired is returned when a named lock is held by someone else
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock is a held named lock. Release is safe to call more than once.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive locks keyed by name.
// Implementations must expire locks after ttl so a crashed holder
// cannot block the key forever.
type Locker interface {
	// Acquire tries to take the lock once and returns ErrLockNotAcquired
	// if another holder owns it
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
