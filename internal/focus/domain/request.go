package domain

import "encoding/json"

// UpdateRequest is a desired-state update from the session owner. Blank host
// entries are allowed and dropped; anything else must be a bare host name.
type UpdateRequest struct {
	Active          bool            `json:"active"`
	BlockedHosts    []string        `json:"blockedHosts" validate:"max=5000,dive,max=512,focus_host"`
	SessionMetadata json.RawMessage `json:"sessionMetadata,omitempty" validate:"max=65536"`
}
