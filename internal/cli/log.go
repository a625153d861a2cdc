package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/ir"
)

// LogEntry describes one commit in log output.
type LogEntry struct {
	Hash  ir.Hash `json:"hash"`
	Type  string  `json:"type"` // "snapshot" or "local"
	Basis ir.Hash `json:"basis,omitempty"`

	// Snapshot fields.
	Cookie          string            `json:"cookie,omitempty"`
	LastMutationIDs map[string]uint64 `json:"last_mutation_ids,omitempty"`

	// Local fields.
	ClientID   string   `json:"client_id,omitempty"`
	MutationID uint64   `json:"mutation_id,omitempty"`
	Mutator    string   `json:"mutator,omitempty"`
	Args       ir.Value `json:"args,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"`
}

func newLogEntry(c commit.Commit) LogEntry {
	e := LogEntry{Hash: c.Hash, Basis: c.Basis()}
	if meta, ok := c.Snapshot(); ok {
		e.Type = "snapshot"
		e.Cookie = meta.Cookie.String()
		e.LastMutationIDs = meta.LastMutationIDs
	}
	if meta, ok := c.Local(); ok {
		e.Type = "local"
		e.ClientID = meta.ClientID
		e.MutationID = meta.MutationID
		e.Mutator = meta.MutatorName
		e.Args = meta.MutatorArgs
		e.Timestamp = meta.Timestamp
	}
	return e
}

// LogOutput is the output of the log command.
type LogOutput struct {
	Commits []LogEntry `json:"commits"`
}

func (o LogOutput) RenderText(w io.Writer) error {
	for _, e := range o.Commits {
		switch e.Type {
		case "snapshot":
			fmt.Fprintf(w, "%s snapshot cookie=%s", e.Hash.Short(), e.Cookie)
			for _, id := range sortedKeys(e.LastMutationIDs) {
				fmt.Fprintf(w, " %s=%d", id, e.LastMutationIDs[id])
			}
			fmt.Fprintln(w)
		case "local":
			fmt.Fprintf(w, "%s local    %s/%d %s\n", e.Hash.Short(), e.ClientID, e.MutationID, e.Mutator)
		}
	}
	return nil
}

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Limit int
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the commit chain under the head",
		Long: `Show commits from the head downward, newest first: pending local
mutations, the base snapshot, and older snapshots still in the store.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum number of commits (0 for all)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	if opts.Limit < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Errorf("--limit must be non-negative, got %d", opts.Limit))
	}

	s, err := openSession(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	commits, err := s.replica.Log(cmd.Context(), opts.Limit)
	if err != nil {
		return failRead(f, err)
	}

	out := LogOutput{Commits: make([]LogEntry, len(commits))}
	for i, c := range commits {
		out.Commits[i] = newLogEntry(c)
	}
	return f.Success(out)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
