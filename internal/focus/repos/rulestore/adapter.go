// Package rulestore owns the live blocking engine's rule table. All writes go
// through Adapter.Apply, which keeps a cached view of the installed rules that
// only changes when the engine confirms a batch.
package rulestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/domain"
)

// Options configures an Adapter. Exactly one of Engine or Staged is required;
// Engine wins when both are set.
type Options struct {
	Engine  Engine
	Staged  StagedEngine
	Timeout time.Duration // per-apply bound; 0 disables
	Logger  log.Logger
}

// Adapter applies rule batches to the engine and tracks what is installed.
type Adapter struct {
	mu        sync.Mutex
	engine    Engine
	staged    StagedEngine
	lister    Lister
	timeout   time.Duration
	logger    log.Logger
	installed domain.InstalledRuleSet
}

// New constructs an Adapter with an empty installed view. Call Bootstrap to
// seed it from an engine that keeps rules across restarts.
func New(opts Options) (*Adapter, error) {
	if opts.Engine == nil && opts.Staged == nil {
		return nil, errors.New("rulestore: an engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	a := &Adapter{
		engine:  opts.Engine,
		staged:  opts.Staged,
		timeout: opts.Timeout,
		logger:  log.Component(opts.Logger, "rulestore"),
	}
	if l, ok := opts.Engine.(Lister); ok {
		a.lister = l
	} else if l, ok := opts.Staged.(Lister); ok {
		a.lister = l
	}
	return a, nil
}

// Bootstrap replaces the cached view with the engine's actual rules. Engines
// that can't list are assumed empty. On error the view is left unchanged.
func (a *Adapter) Bootstrap(ctx context.Context) error {
	if a.lister == nil {
		return nil
	}
	ctx, cancel := a.bound(ctx)
	defer cancel()
	rules, err := a.lister.Rules(ctx)
	if err != nil {
		return &domain.ApplyError{Op: "list", Err: err}
	}
	a.mu.Lock()
	a.installed = domain.InstalledRuleSet{Rules: rules}.Clone()
	a.mu.Unlock()
	a.logger.Info(map[string]any{"rules": len(rules)}, "installed rules seeded from engine")
	return nil
}

// Installed returns a copy of the cached installed rule set.
func (a *Adapter) Installed() domain.InstalledRuleSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.installed.Clone()
}

// Apply removes removeIDs and installs add as one logical operation.
//
// On success the cached view becomes exactly add. On failure the view is
// untouched and an *domain.ApplyError is returned. A batch that would not
// change anything (removeIDs equals the cached IDs and add equals the cached
// rules) returns without calling the engine.
func (a *Adapter) Apply(ctx context.Context, removeIDs []int, add []domain.Rule) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := domain.InstalledRuleSet{Rules: add}
	if slices.Equal(sortedCopy(removeIDs), sortedCopy(a.installed.IDs())) && want.Equal(a.installed) {
		a.logger.Debug(map[string]any{"rules": len(add)}, "apply skipped, engine already current")
		return nil
	}

	ctx, cancel := a.bound(ctx)
	defer cancel()

	var err error
	if a.engine != nil {
		err = a.updateAtomic(ctx, removeIDs, add)
	} else {
		err = a.updateStaged(ctx, removeIDs, add)
	}
	if err != nil {
		a.logger.Warn(map[string]any{"error": err, "remove": len(removeIDs), "add": len(add)}, "apply failed, installed view unchanged")
		return err
	}
	a.installed = want.Clone()
	if a.installed.Rules == nil {
		a.installed.Rules = []domain.Rule{}
	}
	a.logger.Debug(map[string]any{"removed": len(removeIDs), "added": len(add)}, "apply committed")
	return nil
}

func (a *Adapter) updateAtomic(ctx context.Context, removeIDs []int, add []domain.Rule) error {
	if err := a.engine.UpdateRules(ctx, removeIDs, add); err != nil {
		return &domain.ApplyError{Op: "update", Err: classify(ctx, err)}
	}
	return nil
}

// updateStaged removes first and then adds, so old and new rules never
// coexist. If the add fails the removed rules are put back; the rollback
// itself failing is reported and the caller must treat the engine as unknown.
func (a *Adapter) updateStaged(ctx context.Context, removeIDs []int, add []domain.Rule) error {
	if len(removeIDs) > 0 {
		if err := a.staged.RemoveRules(ctx, removeIDs); err != nil {
			return &domain.ApplyError{Op: "remove", Err: classify(ctx, err)}
		}
	}
	if len(add) == 0 {
		return nil
	}
	addErr := a.staged.AddRules(ctx, add)
	if addErr == nil {
		return nil
	}
	removed := a.removedRules(removeIDs)
	if len(removed) == 0 {
		return &domain.ApplyError{Op: "add", Err: classify(ctx, addErr)}
	}
	// Restore on a fresh context: ctx may be the reason the add failed.
	rctx, cancel := a.bound(context.WithoutCancel(ctx))
	defer cancel()
	if rbErr := a.staged.AddRules(rctx, removed); rbErr != nil {
		return &domain.ApplyError{Op: "rollback", Err: fmt.Errorf("add: %w; restore: %w", classify(ctx, addErr), rbErr)}
	}
	return &domain.ApplyError{Op: "add", Err: classify(ctx, addErr)}
}

// removedRules returns the cached rules whose IDs are in ids.
func (a *Adapter) removedRules(ids []int) []domain.Rule {
	var out []domain.Rule
	for _, r := range a.installed.Rules {
		if slices.Contains(ids, r.ID) {
			out = append(out, r)
		}
	}
	return out
}

func (a *Adapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// classify folds a context deadline into the engine error so callers see a
// timeout rather than whatever the engine surfaced on cancellation.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

func sortedCopy(ids []int) []int {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
