package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/gateways/httpapi"
	"github.com/haukened/rr-focus/internal/focus/repos/preset"
	"github.com/haukened/rr-focus/internal/focus/services/reconciler"
	"github.com/haukened/rr-focus/internal/focus/services/session"
)

type seenRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeAPI serves canned replies and records every request.
func fakeAPI(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*httptest.Server, func() []seenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []seenRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, seenRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		mu.Unlock()
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(seen)
	}
}

func replyJSON(status int, v any) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(nil)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--addr", addr}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func activeResult(hosts ...string) session.Result {
	return session.Result{
		Desired: domain.DesiredState{Active: true, BlockedHosts: hosts},
		Outcome: reconciler.Outcome{Installed: len(hosts), RulesActive: true},
	}
}

func TestStart_Hosts(t *testing.T) {
	srv, seen := fakeAPI(t, map[string]func(http.ResponseWriter){
		"PUT /v1/session": replyJSON(http.StatusOK, activeResult("a.com", "b.com")),
	})

	out, err := run(t, srv.URL, "start", "a.com", "b.com")
	require.NoError(t, err)
	assert.Equal(t, "session active, 2 rules installed, hosts: a.com, b.com\n", out)

	require.Len(t, seen(), 1)
	var req domain.UpdateRequest
	require.NoError(t, json.Unmarshal([]byte(seen()[0].Body), &req))
	assert.True(t, req.Active)
	assert.Equal(t, []string{"a.com", "b.com"}, req.BlockedHosts)
}

func TestStart_Metadata(t *testing.T) {
	srv, seen := fakeAPI(t, map[string]func(http.ResponseWriter){
		"PUT /v1/session": replyJSON(http.StatusOK, activeResult("a.com")),
	})

	_, err := run(t, srv.URL, "start", "a.com", "--metadata", `{"timer":25}`)
	require.NoError(t, err)
	assert.Contains(t, seen()[0].Body, `"sessionMetadata":{"timer":25}`)

	_, err = run(t, srv.URL, "start", "a.com", "--metadata", `{nope`)
	assert.ErrorContains(t, err, "not valid JSON")
	assert.Len(t, seen(), 1)
}

func TestStart_Preset(t *testing.T) {
	srv, seen := fakeAPI(t, map[string]func(http.ResponseWriter){
		"POST /v1/presets/deep-work/start": replyJSON(http.StatusOK, activeResult("x.com")),
	})

	out, err := run(t, srv.URL, "--format", "json", "start", "--preset", "deep-work")
	require.NoError(t, err)

	var got session.Result
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"x.com"}, got.Desired.BlockedHosts)
	assert.Equal(t, http.MethodPost, seen()[0].Method)
}

func TestStart_ArgumentErrors(t *testing.T) {
	srv, seen := fakeAPI(t, nil)

	_, err := run(t, srv.URL, "start")
	assert.ErrorContains(t, err, "no hosts")

	_, err = run(t, srv.URL, "start", "a.com", "--preset", "p")
	assert.ErrorContains(t, err, "not both")

	assert.Empty(t, seen())
}

func TestStart_DaemonError(t *testing.T) {
	srv, _ := fakeAPI(t, map[string]func(http.ResponseWriter){
		"PUT /v1/session": replyJSON(http.StatusBadRequest, httpapi.ErrorResponse{Error: "bad host", Field: "blockedHosts[0]"}),
	})

	_, err := run(t, srv.URL, "start", "http://a.com")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "blockedHosts[0]", apiErr.Field)
	assert.Contains(t, err.Error(), "bad host")
}

func TestStop(t *testing.T) {
	srv, seen := fakeAPI(t, map[string]func(http.ResponseWriter){
		"DELETE /v1/session": replyJSON(http.StatusOK, session.Result{
			Desired: domain.DesiredState{Active: false, BlockedHosts: []string{"a.com"}},
		}),
	})

	out, err := run(t, srv.URL, "stop")
	require.NoError(t, err)
	assert.Equal(t, "session inactive, 0 rules installed, hosts: a.com\n", out)
	assert.Equal(t, http.MethodDelete, seen()[0].Method)
}

func TestStatus(t *testing.T) {
	snap := session.Snapshot{
		Desired:   domain.DesiredState{Active: true, BlockedHosts: []string{"a.com"}},
		Sync:      &domain.SyncRecord{LastSyncTimestamp: 1777888800000, RulesActive: true},
		Installed: []domain.Rule{{ID: 1, Host: "a.com", HostPattern: "*://*.a.com/*"}},
		Status:    "idle",
	}
	srv, _ := fakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /v1/status": replyJSON(http.StatusOK, snap),
	})

	out, err := run(t, srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "reconciler: idle")
	assert.Contains(t, out, "active:     true")
	assert.Contains(t, out, "installed:  1 rules")
	assert.Contains(t, out, "last sync:  2026-05-04T10:00:00Z (rules active: true)")

	out, err = run(t, srv.URL, "--format", "json", "status")
	require.NoError(t, err)
	var got session.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, snap.Installed, got.Installed)
}

func TestStatus_NeverSynced(t *testing.T) {
	srv, _ := fakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /v1/status": replyJSON(http.StatusOK, session.Snapshot{Status: "idle"}),
	})

	out, err := run(t, srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "hosts:      (none)")
	assert.Contains(t, out, "last sync:  never")
}

func TestDecide(t *testing.T) {
	srv, seen := fakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /v1/decide": replyJSON(http.StatusOK, httpapi.DecideResponse{
			URL:  "https://www.a.com/x",
			Kind: domain.ResourceSubFrame,
			Decision: domain.BlockDecision{
				Blocked: true, RuleID: 1, Host: "a.com",
				Action: domain.BlockAction{Type: domain.ActionRedirect, RedirectURL: "http://127.0.0.1:7878/blocked"},
			},
		}),
	})

	out, err := run(t, srv.URL, "decide", "https://www.a.com/x", "--kind", "sub_frame")
	require.NoError(t, err)
	assert.Equal(t, "blocked: https://www.a.com/x (rule 1, host a.com, action redirect)\n", out)
	assert.Contains(t, seen()[0].Query, "kind=sub_frame")
	assert.Contains(t, seen()[0].Query, "url=https%3A%2F%2Fwww.a.com%2Fx")
}

func TestDecide_Allowed(t *testing.T) {
	srv, _ := fakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /v1/decide": replyJSON(http.StatusOK, httpapi.DecideResponse{URL: "https://b.com/", Kind: domain.ResourceMainFrame}),
	})

	out, err := run(t, srv.URL, "decide", "https://b.com/")
	require.NoError(t, err)
	assert.Equal(t, "allowed: https://b.com/\n", out)
}

func TestPresets(t *testing.T) {
	srv, _ := fakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /v1/presets": replyJSON(http.StatusOK, []preset.Preset{
			{Name: "deep-work", Description: "no feeds", Hosts: []string{"a.com", "b.com"}},
		}),
	})

	out, err := run(t, srv.URL, "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "deep-work")
	assert.Contains(t, out, "2 hosts")
	assert.Contains(t, out, "no feeds")
}

func TestPresets_Empty(t *testing.T) {
	srv, _ := fakeAPI(t, map[string]func(http.ResponseWriter){
		"GET /v1/presets": replyJSON(http.StatusOK, []preset.Preset{}),
	})

	out, err := run(t, srv.URL, "presets")
	require.NoError(t, err)
	assert.Equal(t, "no presets\n", out)
}

func TestRoot_InvalidFormat(t *testing.T) {
	srv, seen := fakeAPI(t, nil)
	_, err := run(t, srv.URL, "--format", "yaml", "status")
	assert.ErrorContains(t, err, "invalid format")
	assert.Empty(t, seen())
}

func TestRoot_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := run(t, addr, "status")
	assert.ErrorContains(t, err, "daemon unreachable")
}

func TestRoot_AddrDefaults(t *testing.T) {
	t.Setenv("FOCUS_HTTP_ADDR", "10.0.0.1:9000")
	cmd := NewRootCommand(nil)
	assert.Equal(t, "10.0.0.1:9000", cmd.PersistentFlags().Lookup("addr").DefValue)

	t.Setenv("FOCUS_HTTP_ADDR", "")
	cmd = NewRootCommand(nil)
	assert.Equal(t, defaultAddr, cmd.PersistentFlags().Lookup("addr").DefValue)
}

func TestServeCommand(t *testing.T) {
	called := false
	cmd := NewRootCommand(func(ctx context.Context) error {
		called = true
		return nil
	})
	cmd.SetArgs([]string{"serve"})
	require.NoError(t, cmd.Execute())
	assert.True(t, called)

	for _, c := range NewRootCommand(nil).Commands() {
		assert.NotEqual(t, "serve", c.Name())
	}
}

func TestNewAPIClient_Base(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:7878", newAPIClient("127.0.0.1:7878").base)
	assert.Equal(t, "https://focus.local", newAPIClient("https://focus.local/").base)
}
