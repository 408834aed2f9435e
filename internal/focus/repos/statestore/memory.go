package statestore

import (
	"maps"
	"slices"
	"sync"
)

// MemoryKV is a process-local KV. It is not durable; use it for tests and
// ephemeral runs.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
	// GetErr and SetErr, when set, are returned by every call.
	GetErr error
	SetErr error
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, false, m.GetErr
	}
	v, ok := m.data[key]
	return slices.Clone(v), ok, nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.data[key] = slices.Clone(value)
	return nil
}

// Keys returns the stored keys.
func (m *MemoryKV) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data))
}
