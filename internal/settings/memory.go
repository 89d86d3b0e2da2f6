package settings

import (
	"context"
	"sync"
)

// MemoryStore keeps settings in process memory. It is used by tests and by
// single-instance deployments that do not need durability.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, key, def string) (string, error) {
	value, ok, err := m.Lookup(ctx, key)
	if err != nil {
		return "", err
	}
	return getWithDefault(value, ok, def), nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	value, ok := m.values[key]
	m.mu.RUnlock()
	return value, ok, nil
}
