package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TryAcquireLock claims key for token until now+lease. An existing lease is
// taken over only when it has expired. It reports whether the caller now
// holds the lock.
func (s *Store) TryAcquireLock(ctx context.Context, key, token string, lease time.Duration, now time.Time) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("lock key is required")
	}
	if token == "" {
		return false, fmt.Errorf("lock token is required")
	}
	if lease <= 0 {
		return false, fmt.Errorf("lock lease must be positive")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO named_locks (key, token, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		WHERE named_locks.expires_at <= ?
	`, key, token, now.Add(lease).UnixNano(), now.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseLock drops key if it is still held by token. Releasing a lease that
// expired and was taken over by someone else is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM named_locks WHERE key = ? AND token = ?", key, token)
	return err
}

// PurgeExpiredLocks deletes leases that expired before now.
func (s *Store) PurgeExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM named_locks WHERE expires_at <= ?", now.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
