package ruletable

import "github.com/haukened/rr-focus/internal/focus/domain"

// BloomFilter is the minimal interface the table needs from Bloom filters.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds a filter sized for capacity keys at the target
// false-positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache caches block decisions by "kind|host" with basic metrics.
type DecisionCache interface {
	Get(key string) (domain.BlockDecision, bool)
	Put(key string, d domain.BlockDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// StoreStats captures counts and metadata for the persistent rule store.
type StoreStats struct {
	RuleCount   uint64
	Version     uint64 // incremented on every committed batch
	UpdatedUnix int64  // seconds since epoch
}

// Store persists the installed rule table.
//   - Load returns every stored rule ordered by ID
//   - Commit removes and adds in one all-or-nothing transaction
type Store interface {
	Load() ([]domain.Rule, error)
	Commit(removeIDs []int, add []domain.Rule, updatedUnix int64) error
	Stats() StoreStats
	Close() error
}

// TableStats exposes table-level counters and the underlying store stats.
type TableStats struct {
	Rules     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Store     StoreStats
}
