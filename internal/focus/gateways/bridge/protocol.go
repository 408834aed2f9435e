package bridge

import (
	"encoding/json"

	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/services/session"
)

// Message types exchanged with a page bridge.
const (
	TypeFocusTimerUpdate     = "FOCUS_TIMER_UPDATE"
	TypeRequestData          = "REQUEST_EXTENSION_DATA"
	TypeAppReady             = "REACT_APP_READY"
	TypeSyncData             = "SYNC_DATA"
	TypeConnected            = "EXTENSION_CONNECTED"
	TypeDataResponse         = "EXTENSION_DATA_RESPONSE"
	TypeReady                = "EXTENSION_READY"
	TypeDataSync             = "DATA_SYNC"
	TypeBlockingStatusChange = "BLOCKING_STATUS_CHANGED"
	TypeError                = "ERROR"
)

// inbound is any message a page may send. Only FOCUS_TIMER_UPDATE carries
// fields beyond the type.
type inbound struct {
	Type          string          `json:"type"`
	IsActive      json.RawMessage `json:"isActive,omitempty"`
	BlockedSites  json.RawMessage `json:"blockedSites,omitempty"`
	ActiveSession json.RawMessage `json:"activeSession,omitempty"`
	TimeRemaining json.RawMessage `json:"timeRemaining,omitempty"`
}

// outbound is every message the daemon sends.
type outbound struct {
	Type         string            `json:"type"`
	Timestamp    int64             `json:"timestamp,omitempty"`
	Data         *session.Snapshot `json:"data,omitempty"`
	IsActive     *bool             `json:"isActive,omitempty"`
	BlockedSites *[]string         `json:"blockedSites,omitempty"`
	Request      string            `json:"request,omitempty"`
	Error        string            `json:"error,omitempty"`
}

func statusChanged(ev domain.ChangeEvent) outbound {
	active := ev.Active
	sites := ev.BlockedHosts
	if sites == nil {
		sites = []string{}
	}
	return outbound{Type: TypeBlockingStatusChange, IsActive: &active, BlockedSites: &sites}
}

// sessionMetadata is what a timer update keeps as opaque session metadata.
type sessionMetadata struct {
	ActiveSession json.RawMessage `json:"activeSession,omitempty"`
	TimeRemaining json.RawMessage `json:"timeRemaining,omitempty"`
}

// toUpdate maps a timer update onto the ingress payload. Shape problems, such
// as blockedSites not being a list, surface as *domain.ValidationError.
func (m inbound) toUpdate() (domain.UpdateRequest, error) {
	payload := struct {
		Active          json.RawMessage `json:"active,omitempty"`
		BlockedHosts    json.RawMessage `json:"blockedHosts,omitempty"`
		SessionMetadata json.RawMessage `json:"sessionMetadata,omitempty"`
	}{
		Active:       m.IsActive,
		BlockedHosts: m.BlockedSites,
	}
	if len(m.ActiveSession) > 0 || len(m.TimeRemaining) > 0 {
		meta, err := json.Marshal(sessionMetadata{ActiveSession: m.ActiveSession, TimeRemaining: m.TimeRemaining})
		if err != nil {
			return domain.UpdateRequest{}, domain.NewValidationError("activeSession", "%v", err)
		}
		payload.SessionMetadata = meta
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.UpdateRequest{}, domain.NewValidationError("", "%v", err)
	}
	req, err := session.DecodeUpdateBytes(raw)
	if err != nil {
		return domain.UpdateRequest{}, renameField(err)
	}
	return req, nil
}

// renameField reports ingress field names in the bridge's vocabulary.
func renameField(err error) error {
	verr, ok := err.(*domain.ValidationError)
	if !ok {
		return err
	}
	switch verr.Field {
	case "active":
		return &domain.ValidationError{Field: "isActive", Reason: verr.Reason}
	case "blockedHosts":
		return &domain.ValidationError{Field: "blockedSites", Reason: verr.Reason}
	}
	return err
}
