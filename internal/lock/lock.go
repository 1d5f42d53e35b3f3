// Package lock provides named, leased mutual exclusion.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired before the
// acquisition ceiling. Callers may retry the whole operation.
var ErrTimeout = errors.New("lock acquisition timed out")

const (
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = time.Second
)

// Lock is a held named lock.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out named locks. TryAcquire never waits: it reports false
// when another holder has an unexpired lease on key.
type Locker interface {
	TryAcquire(ctx context.Context, key string, lease time.Duration) (Lock, bool, error)
}

// UploadKey is the lock key guarding blob rows for checksum.
func UploadKey(checksum string) string {
	return "blob-upload:" + checksum
}

// Acquire retries TryAcquire with exponential backoff until the lock is
// held, timeout elapses, or ctx is done. A non-positive timeout makes a
// single attempt.
func Acquire(ctx context.Context, locker Locker, key string, lease, timeout time.Duration) (Lock, error) {
	return AcquireWhile(ctx, locker, key, lease, timeout, nil)
}

// AcquireWhile is Acquire with a hook that runs after every failed attempt.
// Callers holding other locks use idle to make progress on them, so two
// holders waiting on each other's keys still drain. An error from idle
// aborts the acquisition.
func AcquireWhile(ctx context.Context, locker Locker, key string, lease, timeout time.Duration, idle func() error) (Lock, error) {
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	for {
		held, ok, err := locker.TryAcquire(ctx, key, lease)
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return held, nil
		}

		if idle != nil {
			if err := idle(); err != nil {
				return nil, err
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
		wait := min(backoff, remaining)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
