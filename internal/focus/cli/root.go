// Package cli holds the focusd command tree. The serve command runs the
// daemon; the other commands are thin clients of its HTTP API.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// defaultAddr is used when neither --addr nor FOCUS_HTTP_ADDR is set.
const defaultAddr = "127.0.0.1:7878"

// ServeFunc runs the daemon until ctx is cancelled.
type ServeFunc func(ctx context.Context) error

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Addr   string
	Format string // "json" | "text"
}

// NewRootCommand creates the focusd root command. serve may be nil, in which
// case the serve subcommand is not available.
func NewRootCommand(serve ServeFunc) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "focusd",
		Short: "focusd - focus session host blocker",
		Long: `focusd blocks a configurable set of hosts while a focus session is active
and keeps the blocking engine, connected page bridges and persisted state in sync.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	addr := os.Getenv("FOCUS_HTTP_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", addr, "daemon address (host:port or URL)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	if serve != nil {
		cmd.AddCommand(NewServeCommand(serve))
	}
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewStopCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewDecideCommand(opts))
	cmd.AddCommand(NewPresetsCommand(opts))

	return cmd
}

// NewServeCommand runs the daemon in the foreground.
func NewServeCommand(serve ServeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the focus daemon",
		Long: `Run the focus daemon. Configuration comes from FOCUS_* environment
variables; the daemon stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}
