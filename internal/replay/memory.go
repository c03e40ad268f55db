package replay

import (
	"context"
	"sync"

	"liquidation_go/internal/domain"
)

// MemorySet is an in-memory ConsumedSet. It has no rollback and serves tests
// and tooling that run outside a Runtime.
type MemorySet struct {
	mu   sync.RWMutex
	keys map[domain.SignatureKey]struct{}
}

// NewMemorySet creates an empty set.
func NewMemorySet() *MemorySet {
	return &MemorySet{keys: make(map[domain.SignatureKey]struct{})}
}

func (m *MemorySet) Contains(_ context.Context, key domain.SignatureKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *MemorySet) Insert(_ context.Context, key domain.SignatureKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	return nil
}

// Len returns the number of consumed keys.
func (m *MemorySet) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}
