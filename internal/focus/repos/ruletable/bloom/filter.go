// Package bloom adapts bits-and-blooms filters to ruletable.BloomFilter.
package bloom

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-focus/internal/focus/repos/ruletable"
)

const defaultFPRate = 0.01

// filter wraps a bits-and-blooms BloomFilter; Add is serialized, lookups
// share a read lock.
type filter struct {
	mu sync.RWMutex
	bf *bitsbloom.BloomFilter
}

func (f *filter) Add(key []byte) {
	f.mu.Lock()
	f.bf.Add(key)
	f.mu.Unlock()
}

func (f *filter) MightContain(key []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.Test(key)
}

// factory implements ruletable.BloomFactory.
type factory struct{}

// NewFactory returns a BloomFactory sizing filters from capacity and FP rate.
func NewFactory() ruletable.BloomFactory { return factory{} }

// New builds a filter for capacity keys. Zero capacity is bumped to one and an
// out-of-range rate falls back to 1%.
func (factory) New(capacity uint64, fpRate float64) ruletable.BloomFilter {
	if capacity == 0 {
		capacity = 1
	}
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = defaultFPRate
	}
	return &filter{bf: bitsbloom.NewWithEstimates(uint(capacity), fpRate)}
}
