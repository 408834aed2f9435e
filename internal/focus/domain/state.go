// Package domain holds the focus daemon's value types: desired state, rules,
// sync breadcrumbs, change events and the error taxonomy. Pure values, no I/O.
package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// DesiredState is the authoritative target blocking configuration supplied by
// the session owner.
type DesiredState struct {
	Active       bool     `json:"active"`
	BlockedHosts []string `json:"blockedHosts"`
	// SessionMetadata is carried through untouched (timer payload, remaining time, ...).
	SessionMetadata json.RawMessage `json:"sessionMetadata,omitempty"`
	// UpdatedAt is stamped by the ingress; informational only.
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// InactiveState is what the daemon assumes when no desired state is known.
func InactiveState() DesiredState {
	return DesiredState{Active: false, BlockedHosts: []string{}}
}

// WantsBlocking reports whether reconciling this state should leave rules installed.
func (s DesiredState) WantsBlocking() bool {
	return s.Active && len(s.BlockedHosts) > 0
}

// Clone returns a deep copy so callers can't alias the host slice.
func (s DesiredState) Clone() DesiredState {
	out := s
	out.BlockedHosts = slices.Clone(s.BlockedHosts)
	if s.SessionMetadata != nil {
		out.SessionMetadata = slices.Clone(s.SessionMetadata)
	}
	return out
}

// SyncRecord is the durable breadcrumb written after every successful
// reconciliation. Observability only.
type SyncRecord struct {
	LastSyncTimestamp int64 `json:"lastSync"` // unix milliseconds
	RulesActive       bool  `json:"rulesActive"`
}

// NewSyncRecord builds a SyncRecord stamped at now.
func NewSyncRecord(now time.Time, rulesActive bool) SyncRecord {
	return SyncRecord{LastSyncTimestamp: now.UnixMilli(), RulesActive: rulesActive}
}

// ChangeEvent is broadcast to page contexts after a successful reconciliation.
// It always carries the full state; receivers replace, never patch.
type ChangeEvent struct {
	Active       bool     `json:"isActive"`
	BlockedHosts []string `json:"blockedSites"`
}

// NewChangeEvent snapshots the desired state into an event.
func NewChangeEvent(s DesiredState) ChangeEvent {
	hosts := slices.Clone(s.BlockedHosts)
	if hosts == nil {
		hosts = []string{}
	}
	return ChangeEvent{Active: s.Active, BlockedHosts: hosts}
}
