package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when a key stays locked past the wait budget.
var ErrNotAcquired = errors.New("lock not acquired")

// ReleaseFunc releases a held lock. It is safe to call after the lock expired.
type ReleaseFunc func(ctx context.Context) error

// Locker provides short-lived exclusive sections keyed by an arbitrary string.
type Locker interface {
	Acquire(ctx context.Context, key string) (ReleaseFunc, error)
}

// NopLocker grants every lock immediately. It is used when uniqueness is left
// entirely to the storage layer.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}
