package storage

import (
	"slices"
	"sync"
)

// MemoryStorage is an in-memory core.SecureStorage for tests and hosts
// that keep credentials only for the process lifetime.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte

	// FailWrites makes Set report failure, to exercise fail-safe paths.
	FailWrites bool

	// Track method calls for verification
	SetCalls int
	GetCalls int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

func (m *MemoryStorage) Set(key string, value []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetCalls++
	if m.FailWrites {
		return false
	}
	m.items[key] = append([]byte(nil), value...)
	return true
}

func (m *MemoryStorage) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	value, ok := m.items[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (m *MemoryStorage) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[key]; !ok {
		return false
	}
	delete(m.items, key)
	return true
}

func (m *MemoryStorage) DeleteAll() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string][]byte)
	return true
}
