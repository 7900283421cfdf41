// Package lock defines the slot lock that keeps replicas from firing the same
// scheduled job twice.
package lock

import (
	"context"
	"time"
)

// Locker acquires a lock that expires on its own after ttl. There is no
// release: a scheduled slot is claimed once and forgotten.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
