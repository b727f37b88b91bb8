package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process lock service. It only excludes callers within the
// same process, so it suits single-instance deployments and tests.
type Memory struct {
	mu     sync.Mutex
	holder string
	locks  map[string]Handle
	now    func() time.Time
}

// NewMemory creates an in-process lock service for the given holder
func NewMemory(holder string) *Memory {
	return &Memory{
		holder: holder,
		locks:  make(map[string]Handle),
		now:    time.Now,
	}
}

// Acquire takes the named lock if it is free or expired
func (m *Memory) Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if current, ok := m.locks[name]; ok && !current.Expired(now) {
		return Handle{}, ErrContention
	}

	h := Handle{
		Name:      name,
		Token:     uuid.New().String(),
		Holder:    m.holder,
		ExpiresAt: now.Add(ttl),
	}
	m.locks[name] = h
	return h, nil
}

// Refresh extends the expiry of a lock still owned by the handle's token
func (m *Memory) Refresh(ctx context.Context, h Handle, ttl time.Duration) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	current, ok := m.locks[h.Name]
	if !ok || current.Token != h.Token || current.Expired(now) {
		return Handle{}, ErrNotHeld
	}

	current.ExpiresAt = now.Add(ttl)
	m.locks[h.Name] = current
	return current, nil
}

// Release frees the lock if the handle's token still owns it
func (m *Memory) Release(_ context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.locks[h.Name]; ok && current.Token == h.Token {
		delete(m.locks, h.Name)
	}
	return nil
}

// ReleaseAll frees every lock held by this service's holder
func (m *Memory) ReleaseAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, h := range m.locks {
		if h.Holder == m.holder {
			delete(m.locks, name)
		}
	}
	return nil
}
