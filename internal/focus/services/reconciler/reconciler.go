// Package reconciler converges the blocking engine onto the desired state.
//
// Every reconciliation is a full replace: all installed rule IDs are removed
// and the freshly compiled rule set is added in one apply. Reconciliations are
// serialized; a caller arriving while one is in flight waits for it and then
// runs its own.
package reconciler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/haukened/rr-focus/internal/focus/common/clock"
	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/infra/metrics"
	"github.com/haukened/rr-focus/internal/focus/services/compiler"
)

// DefaultInterval is the drift check period when Options.Interval is zero.
const DefaultInterval = 2 * time.Second

// Trigger names what started a reconciliation.
type Trigger string

const (
	TriggerDemand  Trigger = "demand"
	TriggerDrift   Trigger = "drift"
	TriggerStartup Trigger = "startup"
)

// Status is the reconciler's own state machine.
type Status uint8

const (
	StatusIdle Status = iota
	StatusReconciling
	// StatusDegraded is idle after a failed reconciliation. The installed view
	// is suspect until the next success.
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusReconciling:
		return "reconciling"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Outcome describes a successful reconciliation.
type Outcome struct {
	Trigger     Trigger   `json:"trigger"`
	Removed     int       `json:"removed"`
	Installed   int       `json:"installed"`
	RulesActive bool      `json:"rulesActive"`
	SyncedAt    time.Time `json:"syncedAt"`
}

// Options configures a Reconciler. Applier and Store are required.
type Options struct {
	Applier     Applier
	Store       StateStore
	Broadcaster Broadcaster
	// Action builds each rule's action. Defaults to compiler.BlockOnly.
	Action   compiler.ActionFunc
	Interval time.Duration
	Clock    clock.Clock
	Logger   log.Logger
	Metrics  *metrics.Metrics
}

// Reconciler owns the reconciliation loop.
type Reconciler struct {
	run    sync.Mutex // serializes reconciliations
	notify sync.Mutex // orders change events

	applier     Applier
	store       StateStore
	broadcaster Broadcaster
	action      compiler.ActionFunc
	interval    time.Duration
	clock       clock.Clock
	logger      log.Logger
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	status  Status
	lastErr error
	last    Outcome
}

// New constructs a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Applier == nil {
		return nil, errors.New("reconciler: applier is required")
	}
	if opts.Store == nil {
		return nil, errors.New("reconciler: state store is required")
	}
	if opts.Action == nil {
		opts.Action = compiler.BlockOnly
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Reconciler{
		applier:     opts.Applier,
		store:       opts.Store,
		broadcaster: opts.Broadcaster,
		action:      opts.Action,
		interval:    opts.Interval,
		clock:       opts.Clock,
		logger:      log.Component(opts.Logger, "reconciler"),
		metrics:     opts.Metrics,
	}, nil
}

// Reconcile converges the engine onto desired. It blocks while another
// reconciliation is in flight. The apply is not cancelled by ctx; it runs to
// completion bounded only by the adapter's timeout.
func (r *Reconciler) Reconcile(ctx context.Context, desired domain.DesiredState) (Outcome, error) {
	return r.reconcile(ctx, TriggerDemand, func() domain.DesiredState { return desired })
}

// ReconcileStored reconciles against whatever desired state is persisted.
func (r *Reconciler) ReconcileStored(ctx context.Context, trigger Trigger) (Outcome, error) {
	return r.reconcile(ctx, trigger, r.store.DesiredOrInactive)
}

// reconcile calls load only once it holds the run lock, so a stored snapshot
// is never older than a reconciliation that finished before it.
func (r *Reconciler) reconcile(ctx context.Context, trigger Trigger, load func() domain.DesiredState) (Outcome, error) {
	r.run.Lock()
	desired := load()
	r.setStatus(StatusReconciling, nil)
	start := time.Now()

	out, err := r.converge(ctx, trigger, desired)

	r.metrics.ObserveReconcile(string(trigger), err, time.Since(start))
	if err != nil {
		r.setStatus(StatusDegraded, err)
		r.run.Unlock()
		r.logger.Error(map[string]any{"trigger": trigger, "error": err}, "reconciliation failed")
		return Outcome{}, err
	}
	r.mu.Lock()
	r.status, r.lastErr, r.last = StatusIdle, nil, out
	r.mu.Unlock()
	r.metrics.SetInstalledRules(out.Installed)
	// The next apply may start while this event is delivered, but events
	// leave in reconciliation order.
	r.notify.Lock()
	defer r.notify.Unlock()
	r.run.Unlock()

	r.logger.Info(map[string]any{
		"trigger":   trigger,
		"removed":   out.Removed,
		"installed": out.Installed,
		"active":    out.RulesActive,
	}, "reconciled")

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(context.WithoutCancel(ctx), domain.NewChangeEvent(desired))
	}
	return out, nil
}

// converge runs the apply and writes the sync record. Callers hold r.run.
func (r *Reconciler) converge(ctx context.Context, trigger Trigger, desired domain.DesiredState) (Outcome, error) {
	installedIDs := r.applier.Installed().IDs()

	var add []domain.Rule
	if desired.WantsBlocking() {
		add = compiler.Compile(desired.BlockedHosts, r.action)
	}

	applyCtx := context.WithoutCancel(ctx)
	if err := r.applier.Apply(applyCtx, installedIDs, add); err != nil {
		var applyErr *domain.ApplyError
		if !errors.As(err, &applyErr) {
			err = &domain.ApplyError{Op: "apply", Err: err}
		}
		return Outcome{}, err
	}

	out := Outcome{
		Trigger:     trigger,
		Removed:     len(installedIDs),
		Installed:   len(add),
		RulesActive: len(add) > 0,
		SyncedAt:    r.clock.Now(),
	}
	if err := r.store.SaveSync(domain.NewSyncRecord(out.SyncedAt, out.RulesActive)); err != nil {
		r.logger.Warn(map[string]any{"error": err}, "sync record not saved")
	}
	return out, nil
}

// CheckDrift reloads desired state and reconciles only when the installed
// rules no longer match it, or when the last reconciliation failed.
func (r *Reconciler) CheckDrift(ctx context.Context) (bool, error) {
	desired := r.store.DesiredOrInactive()
	if !r.drifted(desired) {
		r.metrics.ObserveDriftCheck("clean")
		return false, nil
	}
	r.metrics.ObserveDriftCheck("drifted")
	r.logger.Debug(map[string]any{"active": desired.Active, "hosts": len(desired.BlockedHosts)}, "drift detected")
	_, err := r.reconcile(ctx, TriggerDrift, r.store.DesiredOrInactive)
	return true, err
}

// drifted compares the host fingerprint implied by the installed rules with
// the hosts desired would compile to.
func (r *Reconciler) drifted(desired domain.DesiredState) bool {
	if r.State() == StatusDegraded {
		return true
	}
	want := []string{}
	if desired.Active {
		want = compiler.NormalizeHosts(desired.BlockedHosts)
	}
	return !slices.Equal(want, installedHosts(r.applier.Installed()))
}

func installedHosts(set domain.InstalledRuleSet) []string {
	out := make([]string, 0, set.Len())
	for _, rule := range set.Rules {
		host, ok := compiler.HostFromPattern(rule.HostPattern)
		if !ok {
			host = rule.Host
		}
		out = append(out, host)
	}
	return out
}

// Run seeds the installed view, reconciles once from storage and then checks
// for drift every interval until ctx is done. Failures are logged and retried
// on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	if b, ok := r.applier.(Bootstrapper); ok {
		if err := b.Bootstrap(ctx); err != nil {
			r.logger.Warn(map[string]any{"error": err}, "could not read installed rules, assuming none")
		}
	}
	if _, err := r.ReconcileStored(ctx, TriggerStartup); err != nil && ctx.Err() != nil {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info(map[string]any{"interval": r.interval.String()}, "drift correction running")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(nil, "drift correction stopped")
			return nil
		case <-ticker.C:
			// errors already logged by reconcile
			_, _ = r.CheckDrift(ctx)
		}
	}
}

// State reports the current status.
func (r *Reconciler) State() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// LastError returns the error that put the reconciler into StatusDegraded.
func (r *Reconciler) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// LastOutcome returns the most recent successful outcome.
func (r *Reconciler) LastOutcome() Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Reconciler) setStatus(s Status, err error) {
	r.mu.Lock()
	r.status = s
	if err != nil {
		r.lastErr = err
	}
	r.mu.Unlock()
}
