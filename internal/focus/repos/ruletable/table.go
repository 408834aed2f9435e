// Package ruletable is the daemon's request-blocking engine: a persisted table
// of block rules keyed by small positive IDs, replaced atomically in batches,
// and matched against (scheme, host, resource kind).
package ruletable

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/haukened/rr-focus/internal/focus/common/clock"
	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/common/utils"
	"github.com/haukened/rr-focus/internal/focus/domain"
)

// ErrDuplicateID is returned when a batch would leave two rules with one ID.
var ErrDuplicateID = errors.New("duplicate rule id")

// matchSchemes are the schemes a "*://" pattern covers.
var matchSchemes = []string{"http", "https", "ws", "wss"}

// Options configures a Table.
type Options struct {
	Store   Store
	Cache   DecisionCache
	Factory BloomFactory
	FPRate  float64
	Clock   clock.Clock
	Logger  log.Logger
}

// Table implements the atomic replace primitive over a Store and answers
// block decisions through a bloom → cache → index pipeline.
type Table struct {
	mu      sync.RWMutex
	rules   []domain.Rule       // ordered by ID
	byHost  map[string][]int    // host -> indexes into rules, ascending ID
	bloom   BloomFilter
	store   Store
	cache   DecisionCache
	factory BloomFactory
	fpRate  float64
	clock   clock.Clock
	logger  log.Logger
}

// New constructs a Table and loads whatever rules the store already holds,
// so enforcement survives a daemon restart.
func New(opts Options) (*Table, error) {
	if opts.Store == nil {
		return nil, errors.New("ruletable: store is required")
	}
	if opts.Cache == nil || opts.Factory == nil {
		return nil, errors.New("ruletable: cache and bloom factory are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	t := &Table{
		store:   opts.Store,
		cache:   opts.Cache,
		factory: opts.Factory,
		fpRate:  opts.FPRate,
		clock:   opts.Clock,
		logger:  log.Component(opts.Logger, "ruletable"),
	}
	rules, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("ruletable: load rules: %w", err)
	}
	t.swap(rules)
	t.logger.Info(map[string]any{"rules": len(rules)}, "rule table loaded")
	return t, nil
}

// UpdateRules removes removeIDs and adds add as one all-or-nothing batch.
// Unknown remove IDs are ignored. The batch is rejected, leaving the table
// untouched, if any added rule is invalid or its ID is still in use.
func (t *Table) UpdateRules(ctx context.Context, removeIDs []int, add []domain.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next, err := t.plan(removeIDs, add)
	if err != nil {
		return err
	}
	if err := t.store.Commit(removeIDs, add, t.clock.Now().Unix()); err != nil {
		return fmt.Errorf("ruletable: commit: %w", err)
	}
	t.swapLocked(next)
	t.logger.Debug(map[string]any{"removed": len(removeIDs), "added": len(add), "rules": len(next)}, "rule batch committed")
	return nil
}

// AddRules adds rules without removing anything.
func (t *Table) AddRules(ctx context.Context, add []domain.Rule) error {
	return t.UpdateRules(ctx, nil, add)
}

// RemoveRules removes rules by ID.
func (t *Table) RemoveRules(ctx context.Context, ids []int) error {
	return t.UpdateRules(ctx, ids, nil)
}

// Rules returns a copy of the installed rules ordered by ID.
func (t *Table) Rules(context.Context) ([]domain.Rule, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.InstalledRuleSet{Rules: t.rules}.Clone().Rules, nil
}

// Decide evaluates a request URL of the given kind against the table.
// Policy: unparseable URLs and unsupported schemes are allowed.
func (t *Table) Decide(rawURL string, kind domain.ResourceKind) domain.BlockDecision {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !slices.Contains(matchSchemes, strings.ToLower(u.Scheme)) {
		return domain.EmptyDecision()
	}
	host := utils.CanonicalHostName(u.Hostname())
	if host == "" {
		return domain.EmptyDecision()
	}
	key := string(kind) + "|" + host

	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.checkBloom(host) {
		return domain.EmptyDecision()
	}
	if d, ok := t.cache.Get(key); ok {
		return d
	}
	dec := t.checkIndex(host, kind)
	t.cache.Put(key, dec)
	return dec
}

// Stats returns table counters and store metadata.
func (t *Table) Stats() TableStats {
	t.mu.RLock()
	n := len(t.rules)
	t.mu.RUnlock()
	hits, misses, evictions := t.cache.Stats()
	return TableStats{Rules: n, Hits: hits, Misses: misses, Evictions: evictions, Store: t.store.Stats()}
}

// Close releases the store.
func (t *Table) Close() error {
	return t.store.Close()
}

// plan computes the post-batch rule list without mutating anything.
func (t *Table) plan(removeIDs []int, add []domain.Rule) ([]domain.Rule, error) {
	next := make([]domain.Rule, 0, len(t.rules)+len(add))
	for _, r := range t.rules {
		if !slices.Contains(removeIDs, r.ID) {
			next = append(next, r)
		}
	}
	used := make(map[int]struct{}, len(next)+len(add))
	for _, r := range next {
		used[r.ID] = struct{}{}
	}
	for _, r := range add {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("ruletable: %w", err)
		}
		if _, dup := used[r.ID]; dup {
			return nil, fmt.Errorf("ruletable: %w: %d", ErrDuplicateID, r.ID)
		}
		used[r.ID] = struct{}{}
		next = append(next, r)
	}
	slices.SortFunc(next, func(a, b domain.Rule) int { return a.ID - b.ID })
	return next, nil
}

func (t *Table) swap(rules []domain.Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.swapLocked(rules)
}

// swapLocked installs rules, rebuilds the index and bloom filter, and purges
// cached decisions. Caller holds the write lock.
func (t *Table) swapLocked(rules []domain.Rule) {
	byHost := make(map[string][]int, len(rules))
	bf := t.factory.New(uint64(len(rules)), t.fpRate)
	for i, r := range rules {
		byHost[r.Host] = append(byHost[r.Host], i)
		bf.Add([]byte(r.Host))
	}
	t.rules = rules
	t.byHost = byHost
	t.bloom = bf
	t.cache.Purge()
}

// checkBloom returns true if any suffix anchor of host may be in the table,
// or false if we can early-allow.
func (t *Table) checkBloom(host string) bool {
	if t.bloom == nil {
		return true
	}
	for a := host; a != ""; a = parent(a) {
		if t.bloom.MightContain([]byte(a)) {
			return true
		}
	}
	return false
}

// checkIndex walks host anchors most-specific → apex and returns the
// lowest-ID rule covering kind.
func (t *Table) checkIndex(host string, kind domain.ResourceKind) domain.BlockDecision {
	for a := host; a != ""; a = parent(a) {
		for _, i := range t.byHost[a] {
			r := t.rules[i]
			if r.AppliesTo(kind) {
				return domain.BlockDecision{Blocked: true, RuleID: r.ID, Host: r.Host, Action: r.Action}
			}
		}
	}
	return domain.EmptyDecision()
}

// parent strips the leftmost label; "" when none remain.
func parent(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return ""
}
