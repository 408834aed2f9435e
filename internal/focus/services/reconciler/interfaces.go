package reconciler

import (
	"context"

	"github.com/haukened/rr-focus/internal/focus/domain"
)

// Applier is the rule store adapter: the only path to the blocking engine.
type Applier interface {
	Installed() domain.InstalledRuleSet
	Apply(ctx context.Context, removeIDs []int, add []domain.Rule) error
}

// Bootstrapper is implemented by appliers that can seed their installed view
// from an engine that outlives the process.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// StateStore is the slice of the persistence gateway the reconciler needs.
type StateStore interface {
	// DesiredOrInactive never fails; unreadable state reads as inactive.
	DesiredOrInactive() domain.DesiredState
	SaveSync(rec domain.SyncRecord) error
}

// Broadcaster delivers change events on a best-effort basis.
type Broadcaster interface {
	Broadcast(ctx context.Context, event domain.ChangeEvent)
}
