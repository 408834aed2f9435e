package rulestore

import (
	"context"

	"github.com/haukened/rr-focus/internal/focus/domain"
)

// Engine is a blocking engine with an all-or-nothing batch primitive.
type Engine interface {
	UpdateRules(ctx context.Context, removeIDs []int, add []domain.Rule) error
}

// StagedEngine is a blocking engine that only offers separate add and remove
// calls. The adapter layers a remove-then-add apply with rollback on top.
type StagedEngine interface {
	AddRules(ctx context.Context, add []domain.Rule) error
	RemoveRules(ctx context.Context, ids []int) error
}

// Lister is implemented by engines that can report their installed rules. The
// adapter uses it to seed its cache after a restart.
type Lister interface {
	Rules(ctx context.Context) ([]domain.Rule, error)
}
