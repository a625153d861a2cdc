// Package cli implements the replica command line: it opens a replica from
// configuration and exposes mutation, pull, read, and maintenance commands
// on it, plus mutator validation and the conformance harness.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath string // TOML or YAML config file
	DB         string // overrides config path
	Backend    string // overrides config backend
	ClientID   string // overrides config client_id
	Mutators   string // overrides config mutators_dir
	Head       string // overrides config head
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the replica CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "replica",
		Short: "replica - local-first key/value replica",
		Long: `A local-first key/value replica.

Local mutations commit immediately on top of the last server snapshot.
Pulling a server response replaces that snapshot and replays the
mutations the server has not confirmed yet.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				msg := fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", msg)
				return NewExitError(ExitCommandError, msg)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.toml, .yaml)")
	pf.StringVar(&opts.DB, "db", "", "database path (overrides config)")
	pf.StringVar(&opts.Backend, "backend", "", "chunk store backend: memory, sqlite, badger (overrides config)")
	pf.StringVar(&opts.ClientID, "client-id", "", "client ID (overrides config)")
	pf.StringVar(&opts.Mutators, "mutators", "", "directory of CUE mutator definitions (overrides config)")
	pf.StringVar(&opts.Head, "head", "", "head name (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewMutateCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewGCCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newFormatter builds the formatter every command writes through.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
