// Package lease provides the per-duel settlement lock. Settlement logic
// is identical regardless of deployment topology: single instances use
// the in-process locker, multi-instance deployments the Redis lease.
package lease

import (
	"context"
	"sync"
)

// Locker guards a critical section keyed by string. TryAcquire never
// blocks: when the key is held elsewhere it reports ok=false and the
// caller backs off. The release func must be called on every exit path.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// MemoryLocker tracks held keys in an in-process set.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker constructs an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryAcquire claims the key if free.
func (m *MemoryLocker) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.held[key]; taken {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}
	return release, true, nil
}

var _ Locker = (*MemoryLocker)(nil)
