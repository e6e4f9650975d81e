// Package memory provides an in-process lock.Manager. Locks are only exclusive
// between handles created by the same Manager.
package memory

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/lock"
)

type Manager struct {
	mu       sync.Mutex
	owners   map[string]*Lock
	released chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		owners:   make(map[string]*Lock),
		released: make(chan struct{}),
	}
}

// Create implements lock.Manager.Create
func (m *Manager) Create(_ context.Context, name string) (lock.DistributedLock, error) {
	return &Lock{m: m, name: name}, nil
}

// Revoke forcibly releases the named lock, as if its lease expired
func (m *Manager) Revoke(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.owners[name]; ok {
		m.releaseLocked(owner)
	}
}

func (m *Manager) releaseLocked(l *Lock) {
	if m.owners[l.name] != l {
		return
	}

	delete(m.owners, l.name)
	close(l.lostCh)
	l.lostCh = nil

	close(m.released)
	m.released = make(chan struct{})
}

type Lock struct {
	m      *Manager
	name   string
	lostCh chan struct{}
}

// Acquire implements lock.DistributedLock.Acquire
func (l *Lock) Acquire(ctx context.Context) (<-chan struct{}, error) {
	for {
		l.m.mu.Lock()

		owner, held := l.m.owners[l.name]
		if owner == l {
			l.m.mu.Unlock()
			return nil, errors.New("cannot call Acquire concurrently")
		}

		if !held {
			lostCh := make(chan struct{})
			l.lostCh = lostCh
			l.m.owners[l.name] = l
			l.m.mu.Unlock()

			go func() {
				select {
				case <-ctx.Done():
					l.m.mu.Lock()
					if l.lostCh == lostCh {
						l.m.releaseLocked(l)
					}
					l.m.mu.Unlock()
				case <-lostCh:
				}
			}()

			return lostCh, nil
		}

		wait := l.m.released
		l.m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Unlock implements lock.DistributedLock.Unlock
func (l *Lock) Unlock(_ context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	l.m.releaseLocked(l)
	return nil
}

// IsLocked implements lock.DistributedLock.IsLocked
func (l *Lock) IsLocked() bool {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	return l.m.owners[l.name] == l
}
