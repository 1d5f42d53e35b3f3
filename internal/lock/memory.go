package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Locker. Locks are only exclusive within one
// process.
type Memory struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{leases: map[string]memoryLease{}, now: time.Now}
}

func (m *Memory) TryAcquire(ctx context.Context, key string, lease time.Duration) (Lock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("lock key is required")
	}
	if lease <= 0 {
		return nil, false, fmt.Errorf("lock lease must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if current, ok := m.leases[key]; ok && now.Before(current.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	m.leases[key] = memoryLease{token: token, expires: now.Add(lease)}
	return &memoryLock{owner: m, key: key, token: token}, true, nil
}

// Held reports whether key currently has an unexpired lease.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.leases[key]
	return ok && m.now().Before(current.expires)
}

func (m *Memory) release(key, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.leases[key]; ok && current.token == token {
		delete(m.leases, key)
	}
}

type memoryLock struct {
	owner *Memory
	key   string
	token string
}

func (l *memoryLock) Key() string { return l.key }

func (l *memoryLock) Release(context.Context) error {
	l.owner.release(l.key, l.token)
	return nil
}
