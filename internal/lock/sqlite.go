package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LeaseStore persists named leases. *store.Store implements it.
type LeaseStore interface {
	TryAcquireLock(ctx context.Context, key, token string, lease time.Duration, now time.Time) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// SQLite is a Locker backed by the named_locks table, so locks are shared by
// every process using the same database.
type SQLite struct {
	leases LeaseStore
}

// NewSQLite returns a locker storing leases in leases.
func NewSQLite(leases LeaseStore) *SQLite {
	return &SQLite{leases: leases}
}

func (s *SQLite) TryAcquire(ctx context.Context, key string, lease time.Duration) (Lock, bool, error) {
	token := uuid.NewString()
	ok, err := s.leases.TryAcquireLock(ctx, key, token, lease, time.Now())
	if err != nil || !ok {
		return nil, false, err
	}
	return &sqliteLock{leases: s.leases, key: key, token: token}, true, nil
}

type sqliteLock struct {
	leases LeaseStore
	key    string
	token  string
}

func (l *sqliteLock) Key() string { return l.key }

func (l *sqliteLock) Release(ctx context.Context) error {
	return l.leases.ReleaseLock(ctx, l.key, l.token)
}
