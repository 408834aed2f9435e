// Package statestore is the persistence gateway: desired state and the sync
// breadcrumb stored as two independent JSON blobs under fixed keys.
//
// Writes are last-writer-wins. The reconciler is the only writer of the sync
// record and one session owner at a time writes desired state.
package statestore

import (
	"encoding/json"
	"fmt"

	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/domain"
)

const (
	KeyDesiredState = "desired_state"
	KeySyncRecord   = "sync_record"
)

// KV is a durable arbitrary-key store. A nil error from Set means the value
// survives a crash.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
}

// Gateway reads and writes the persisted focus state.
type Gateway struct {
	kv     KV
	logger log.Logger
}

// New wraps kv. A nil logger discards output.
func New(kv KV, logger log.Logger) *Gateway {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Gateway{kv: kv, logger: log.Component(logger, "statestore")}
}

// LoadDesired returns the stored desired state. ok is false when nothing has
// been saved yet. Read or decode failures return an *domain.IOError.
func (g *Gateway) LoadDesired() (state domain.DesiredState, ok bool, err error) {
	ok, err = g.load(KeyDesiredState, &state)
	if err != nil || !ok {
		return domain.InactiveState(), false, err
	}
	if state.BlockedHosts == nil {
		state.BlockedHosts = []string{}
	}
	return state, true, nil
}

// DesiredOrInactive loads desired state, degrading any failure to "no desired
// state known" (inactive, no hosts).
func (g *Gateway) DesiredOrInactive() domain.DesiredState {
	state, _, err := g.LoadDesired()
	if err != nil {
		g.logger.Warn(map[string]any{"error": err}, "desired state unreadable, assuming inactive")
		return domain.InactiveState()
	}
	return state
}

// SaveDesired persists state.
func (g *Gateway) SaveDesired(state domain.DesiredState) error {
	if state.BlockedHosts == nil {
		state.BlockedHosts = []string{}
	}
	return g.save(KeyDesiredState, state)
}

// LoadSync returns the last sync record; ok is false when none was written.
func (g *Gateway) LoadSync() (rec domain.SyncRecord, ok bool, err error) {
	ok, err = g.load(KeySyncRecord, &rec)
	if err != nil || !ok {
		return domain.SyncRecord{}, false, err
	}
	return rec, true, nil
}

// SaveSync persists the sync breadcrumb.
func (g *Gateway) SaveSync(rec domain.SyncRecord) error {
	return g.save(KeySyncRecord, rec)
}

func (g *Gateway) load(key string, into any) (bool, error) {
	raw, ok, err := g.kv.Get(key)
	if err != nil {
		return false, &domain.IOError{Op: "load", Key: key, Err: err}
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, &domain.IOError{Op: "load", Key: key, Err: fmt.Errorf("decode: %w", err)}
	}
	return true, nil
}

func (g *Gateway) save(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return &domain.IOError{Op: "save", Key: key, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := g.kv.Set(key, raw); err != nil {
		return &domain.IOError{Op: "save", Key: key, Err: err}
	}
	g.logger.Debug(map[string]any{"key": key, "bytes": len(raw)}, "state saved")
	return nil
}
