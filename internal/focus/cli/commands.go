package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/gateways/httpapi"
	"github.com/haukened/rr-focus/internal/focus/repos/preset"
	"github.com/haukened/rr-focus/internal/focus/services/session"
)

// NewStartCommand starts a session from hosts or a preset.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	var presetName, metadata string
	cmd := &cobra.Command{
		Use:   "start [host...]",
		Short: "Start blocking hosts",
		Long: `Start a focus session blocking the given hosts, or the hosts of a preset
with --preset. The host list replaces whatever was blocked before.`,
		Example: `  focusd start twitter.com news.ycombinator.com
  focusd start --preset deep-work`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(rootOpts.Addr)
			var res session.Result
			switch {
			case presetName != "" && len(args) > 0:
				return fmt.Errorf("give either hosts or --preset, not both")
			case presetName != "":
				if err := client.do(cmd.Context(), http.MethodPost, "/v1/presets/"+url.PathEscape(presetName)+"/start", nil, nil, &res); err != nil {
					return err
				}
			case len(args) == 0:
				return fmt.Errorf("no hosts given")
			default:
				req := domain.UpdateRequest{Active: true, BlockedHosts: args}
				if metadata != "" {
					if !json.Valid([]byte(metadata)) {
						return fmt.Errorf("--metadata is not valid JSON")
					}
					req.SessionMetadata = json.RawMessage(metadata)
				}
				if err := client.do(cmd.Context(), http.MethodPut, "/v1/session", nil, req, &res); err != nil {
					return err
				}
			}
			return writeResult(cmd.OutOrStdout(), rootOpts.Format, res)
		},
	}
	cmd.Flags().StringVar(&presetName, "preset", "", "start from a named preset")
	cmd.Flags().StringVar(&metadata, "metadata", "", "opaque session metadata (JSON)")
	return cmd
}

// NewStopCommand ends the current session.
func NewStopCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop blocking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res session.Result
			if err := newAPIClient(rootOpts.Addr).do(cmd.Context(), http.MethodDelete, "/v1/session", nil, nil, &res); err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), rootOpts.Format, res)
		},
	}
}

// NewStatusCommand prints the daemon's state.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show desired state, installed rules and last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap session.Snapshot
			if err := newAPIClient(rootOpts.Addr).do(cmd.Context(), http.MethodGet, "/v1/status", nil, nil, &snap); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "reconciler: %s\n", snap.Status)
			fmt.Fprintf(w, "active:     %t\n", snap.Desired.Active)
			fmt.Fprintf(w, "hosts:      %s\n", joinOrNone(snap.Desired.BlockedHosts))
			fmt.Fprintf(w, "installed:  %d rules\n", len(snap.Installed))
			if snap.Sync != nil {
				fmt.Fprintf(w, "last sync:  %s (rules active: %t)\n",
					time.UnixMilli(snap.Sync.LastSyncTimestamp).UTC().Format(time.RFC3339), snap.Sync.RulesActive)
			} else {
				fmt.Fprintln(w, "last sync:  never")
			}
			return nil
		},
	}
}

// NewDecideCommand asks whether a URL would be blocked.
func NewDecideCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "decide <url>",
		Short: "Check whether a URL is blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res httpapi.DecideResponse
			q := url.Values{"url": {args[0]}, "kind": {kind}}
			if err := newAPIClient(rootOpts.Addr).do(cmd.Context(), http.MethodGet, "/v1/decide", q, nil, &res); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			if !res.Decision.Blocked {
				fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s\n", res.URL)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "blocked: %s (rule %d, host %s, action %s)\n",
				res.URL, res.Decision.RuleID, res.Decision.Host, res.Decision.Action.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.ResourceMainFrame), "resource kind (main_frame|sub_frame|other)")
	return cmd
}

// NewPresetsCommand lists presets.
func NewPresetsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List session presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var presets []preset.Preset
			if err := newAPIClient(rootOpts.Addr).do(cmd.Context(), http.MethodGet, "/v1/presets", nil, nil, &presets); err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), presets)
			}
			if len(presets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no presets")
			}
			for _, p := range presets {
				line := fmt.Sprintf("%-16s %d hosts", p.Name, len(p.Hosts))
				if p.Duration > 0 {
					line += ", " + p.Duration.String()
				}
				if p.Description != "" {
					line += "  " + p.Description
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func writeResult(w io.Writer, format string, res session.Result) error {
	if format == "json" {
		return writeJSON(w, res)
	}
	state := "inactive"
	if res.Desired.Active {
		state = "active"
	}
	_, err := fmt.Fprintf(w, "session %s, %d rules installed, hosts: %s\n",
		state, res.Outcome.Installed, joinOrNone(res.Desired.BlockedHosts))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinOrNone(hosts []string) string {
	if len(hosts) == 0 {
		return "(none)"
	}
	return strings.Join(hosts, ", ")
}
