package lease

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	owner     string
	expiresAt time.Time
}

// MemoryManager keeps leases in process. It only coordinates workers of one process.
type MemoryManager struct {
	clock  clockwork.Clock
	mu     sync.Mutex
	leases map[string]entry
}

func NewMemoryManager(clock clockwork.Clock) *MemoryManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &MemoryManager{clock: clock, leases: make(map[string]entry)}
}

func (m *MemoryManager) TryAcquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	if current, ok := m.leases[key]; ok && current.owner != owner && now.Before(current.expiresAt) {
		return false, nil
	}

	m.leases[key] = entry{owner: owner, expiresAt: now.Add(ttl)}

	return true, nil
}

func (m *MemoryManager) Renew(_ context.Context, key, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	current, ok := m.leases[key]
	if !ok || current.owner != owner || !now.Before(current.expiresAt) {
		return ErrNotHeld
	}

	m.leases[key] = entry{owner: owner, expiresAt: now.Add(ttl)}

	return nil
}

func (m *MemoryManager) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.leases[key]; ok && current.owner == owner {
		delete(m.leases, key)
	}

	return nil
}
