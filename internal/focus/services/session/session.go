// Package session is the desired-state ingress. It validates updates from the
// session owner, persists them and asks the reconciler to converge.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/rr-focus/internal/focus/common/clock"
	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/repos/preset"
	"github.com/haukened/rr-focus/internal/focus/services/compiler"
	"github.com/haukened/rr-focus/internal/focus/services/reconciler"
)

// Store is the slice of the persistence gateway the ingress uses.
type Store interface {
	LoadDesired() (domain.DesiredState, bool, error)
	SaveDesired(state domain.DesiredState) error
	LoadSync() (domain.SyncRecord, bool, error)
}

// Reconciler converges the engine onto a desired state.
type Reconciler interface {
	Reconcile(ctx context.Context, desired domain.DesiredState) (reconciler.Outcome, error)
	State() reconciler.Status
}

// InstalledViewer exposes the cached installed rules.
type InstalledViewer interface {
	Installed() domain.InstalledRuleSet
}

// Presets resolves preset names.
type Presets interface {
	Get(name string) (preset.Preset, error)
}

// Options configures an Ingress. Store and Reconciler are required.
type Options struct {
	Store      Store
	Reconciler Reconciler
	Installed  InstalledViewer
	Presets    Presets
	Clock      clock.Clock
	Logger     log.Logger
}

// Ingress accepts desired-state updates.
type Ingress struct {
	mu         sync.Mutex // keeps save+reconcile pairs in order
	store      Store
	reconciler Reconciler
	installed  InstalledViewer
	presets    Presets
	clock      clock.Clock
	logger     log.Logger
	validate   *validator.Validate
}

// Result is what an accepted update produced.
type Result struct {
	Desired domain.DesiredState `json:"desired"`
	Outcome reconciler.Outcome  `json:"outcome"`
}

// Snapshot is the daemon's externally visible state.
type Snapshot struct {
	Desired   domain.DesiredState `json:"desired"`
	Sync      *domain.SyncRecord  `json:"sync,omitempty"`
	Installed []domain.Rule       `json:"installed"`
	Status    string              `json:"status"`
}

// New constructs an Ingress.
func New(opts Options) (*Ingress, error) {
	if opts.Store == nil || opts.Reconciler == nil {
		return nil, errors.New("session: store and reconciler are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Ingress{
		store:      opts.Store,
		reconciler: opts.Reconciler,
		installed:  opts.Installed,
		presets:    opts.Presets,
		clock:      opts.Clock,
		logger:     log.Component(opts.Logger, "session"),
		validate:   v,
	}, nil
}

// Update validates req, stores it as the desired state and reconciles. A
// *domain.ValidationError means nothing was stored. A persistence failure is
// returned as *domain.IOError before reconciling, since the next drift check
// would revert to whatever is stored.
func (i *Ingress) Update(ctx context.Context, req domain.UpdateRequest) (Result, error) {
	if err := validateRequest(i.validate, req); err != nil {
		i.logger.Debug(map[string]any{"error": err}, "update rejected")
		return Result{}, err
	}
	desired := domain.DesiredState{
		Active:          req.Active,
		BlockedHosts:    compiler.NormalizeHosts(req.BlockedHosts),
		SessionMetadata: req.SessionMetadata,
		UpdatedAt:       i.clock.Now().UTC(),
	}
	return i.apply(ctx, desired)
}

func (i *Ingress) apply(ctx context.Context, desired domain.DesiredState) (Result, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.store.SaveDesired(desired); err != nil {
		i.logger.Error(map[string]any{"error": err}, "desired state not saved")
		return Result{}, err
	}
	i.logger.Info(map[string]any{"active": desired.Active, "hosts": len(desired.BlockedHosts)}, "desired state updated")

	out, err := i.reconciler.Reconcile(ctx, desired)
	if err != nil {
		return Result{Desired: desired}, err
	}
	return Result{Desired: desired, Outcome: out}, nil
}

// Stop ends the session: blocking is turned off and the host list is kept so
// the next start can reuse it.
func (i *Ingress) Stop(ctx context.Context) (Result, error) {
	current, _, err := i.store.LoadDesired()
	if err != nil {
		i.logger.Warn(map[string]any{"error": err}, "stored state unreadable, stopping with no hosts")
	}
	current.Active = false
	current.UpdatedAt = i.clock.Now().UTC()
	return i.apply(ctx, current)
}

// StartPreset starts a session blocking the named preset's hosts. The preset
// name and, when it has one, the planned end time go into the session metadata.
func (i *Ingress) StartPreset(ctx context.Context, name string) (Result, error) {
	if i.presets == nil {
		return Result{}, domain.NewValidationError("preset", "no presets configured")
	}
	p, err := i.presets.Get(name)
	if err != nil {
		return Result{}, domain.NewValidationError("preset", "%v", err)
	}
	meta := presetMetadata{Preset: p.Name}
	if p.Duration > 0 {
		meta.Duration = p.Duration.String()
		meta.EndsAt = i.clock.Now().UTC().Add(p.Duration).Format(time.RFC3339)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return Result{}, err
	}
	return i.Update(ctx, domain.UpdateRequest{Active: true, BlockedHosts: p.Hosts, SessionMetadata: raw})
}

type presetMetadata struct {
	Preset   string `json:"preset"`
	Duration string `json:"duration,omitempty"`
	EndsAt   string `json:"endsAt,omitempty"`
}

// Snapshot reports stored desired state, the last sync record, the installed
// rules and the reconciler status. Unreadable storage reads as inactive.
func (i *Ingress) Snapshot() Snapshot {
	snap := Snapshot{
		Installed: []domain.Rule{},
		Status:    i.reconciler.State().String(),
	}
	desired, _, err := i.store.LoadDesired()
	if err != nil {
		i.logger.Warn(map[string]any{"error": err}, "desired state unreadable")
	}
	snap.Desired = desired
	if rec, ok, err := i.store.LoadSync(); err == nil && ok {
		snap.Sync = &rec
	}
	if i.installed != nil {
		if rules := i.installed.Installed().Rules; rules != nil {
			snap.Installed = rules
		}
	}
	return snap
}
