package domain

import (
	"fmt"
	"slices"
)

// ActionType names the terminal response applied to a matched request.
type ActionType uint8

const (
	// ActionRedirect sends the request to a placeholder page.
	ActionRedirect ActionType = iota
	// ActionBlock cancels the request outright.
	ActionBlock
)

// String returns a stable string representation of the action type.
func (a ActionType) String() string {
	switch a {
	case ActionRedirect:
		return "redirect"
	case ActionBlock:
		return "block"
	default:
		return fmt.Sprintf("ActionType(%d)", a)
	}
}

// BlockAction describes the response for a matched request. The reconciler
// never inspects it; it is carried from the compiler to the engine unchanged.
type BlockAction struct {
	Type        ActionType `json:"type"`
	RedirectURL string     `json:"redirectUrl,omitempty"`
}

// ResourceKind is the request class a rule applies to.
type ResourceKind string

const (
	// ResourceMainFrame is a top-level navigation.
	ResourceMainFrame ResourceKind = "main_frame"
	// ResourceSubFrame is an embedded frame.
	ResourceSubFrame ResourceKind = "sub_frame"
	// ResourceOther covers every other fetch.
	ResourceOther ResourceKind = "other"
)

// Rule is one installed block directive.
//
// Notes:
// - ID is positive and unique within a rule set; the compiler assigns 1..N.
// - HostPattern is the wildcard url filter, e.g. "*://*.example.com/*".
// - Host is the canonical host the pattern was compiled from.
type Rule struct {
	ID            int            `json:"id"`
	HostPattern   string         `json:"hostPattern"`
	Host          string         `json:"host"`
	ResourceKinds []ResourceKind `json:"resourceKinds"`
	Action        BlockAction    `json:"action"`
}

// Validate checks the Rule for required fields.
func (r Rule) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("rule id must be positive, got %d", r.ID)
	}
	if r.HostPattern == "" {
		return fmt.Errorf("rule %d: host pattern must not be empty", r.ID)
	}
	if r.Host == "" {
		return fmt.Errorf("rule %d: host must not be empty", r.ID)
	}
	return nil
}

// Equal reports whether two rules are identical in every field.
func (r Rule) Equal(o Rule) bool {
	return r.ID == o.ID &&
		r.HostPattern == o.HostPattern &&
		r.Host == o.Host &&
		r.Action == o.Action &&
		slices.Equal(r.ResourceKinds, o.ResourceKinds)
}

// AppliesTo reports whether the rule covers the given resource kind.
func (r Rule) AppliesTo(kind ResourceKind) bool {
	return slices.Contains(r.ResourceKinds, kind)
}

// InstalledRuleSet is what the blocking engine currently enforces.
type InstalledRuleSet struct {
	Rules []Rule `json:"rules"`
}

// IDs returns the rule IDs in set order.
func (s InstalledRuleSet) IDs() []int {
	ids := make([]int, 0, len(s.Rules))
	for _, r := range s.Rules {
		ids = append(ids, r.ID)
	}
	return ids
}

// Hosts returns the canonical hosts of the installed rules in set order.
func (s InstalledRuleSet) Hosts() []string {
	hosts := make([]string, 0, len(s.Rules))
	for _, r := range s.Rules {
		hosts = append(hosts, r.Host)
	}
	return hosts
}

// Len returns the number of installed rules.
func (s InstalledRuleSet) Len() int { return len(s.Rules) }

// Equal reports whether both sets hold identical rules in identical order.
func (s InstalledRuleSet) Equal(o InstalledRuleSet) bool {
	return slices.EqualFunc(s.Rules, o.Rules, Rule.Equal)
}

// Clone returns a deep copy of the set.
func (s InstalledRuleSet) Clone() InstalledRuleSet {
	out := InstalledRuleSet{Rules: make([]Rule, len(s.Rules))}
	for i, r := range s.Rules {
		r.ResourceKinds = slices.Clone(r.ResourceKinds)
		out.Rules[i] = r
	}
	return out
}
