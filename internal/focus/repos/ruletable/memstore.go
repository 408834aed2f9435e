package ruletable

import (
	"maps"
	"slices"
	"sync"

	"github.com/haukened/rr-focus/internal/focus/domain"
)

// memoryStore is a Store that keeps rules in process memory. Used when no
// rule database is configured and by tests.
type memoryStore struct {
	mu      sync.Mutex
	rules   map[int]domain.Rule
	version uint64
	updated int64
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{rules: make(map[int]domain.Rule)}
}

func (s *memoryStore) Load() ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Sorted(maps.Keys(s.rules))
	out := make([]domain.Rule, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rules[id])
	}
	return out, nil
}

func (s *memoryStore) Commit(removeIDs []int, add []domain.Rule, updatedUnix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range removeIDs {
		delete(s.rules, id)
	}
	for _, r := range add {
		s.rules[r.ID] = r
	}
	s.version++
	s.updated = updatedUnix
	return nil
}

func (s *memoryStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{RuleCount: uint64(len(s.rules)), Version: s.version, UpdatedUnix: s.updated}
}

func (s *memoryStore) Close() error { return nil }
