package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
)

// Entry is one key/value pair in get and scan output.
type Entry struct {
	Key   string   `json:"key"`
	Value ir.Value `json:"value"`
}

func (e Entry) RenderText(w io.Writer) error {
	v, err := ir.MarshalCanonical(e.Value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\t%s\n", e.Key, v)
	return err
}

// ScanOutput is the output of the scan command.
type ScanOutput struct {
	Entries []Entry `json:"entries"`
}

func (o ScanOutput) RenderText(w io.Writer) error {
	for _, e := range o.Entries {
		if err := e.RenderText(w); err != nil {
			return err
		}
	}
	return nil
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key at the head",
		Long: `Read a key at the head, including pending local mutations.

Exits with code 1 if the key is absent.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, key string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	v, ok, err := s.replica.Get(cmd.Context(), key)
	if err != nil {
		return failRead(f, err)
	}
	if !ok {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Errorf("key %q not found", key))
	}
	return f.Success(Entry{Key: key, Value: v})
}

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Prefix string
	Start  string
	Limit  int
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List entries at the head in key order",
		Long: `List entries at the head in key order.

Examples:
  replica scan --prefix todo/
  replica scan --start m --limit 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only keys with this prefix")
	cmd.Flags().StringVar(&opts.Start, "start", "", "skip keys before this one")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 for all)")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	if opts.Limit < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Errorf("--limit must be non-negative, got %d", opts.Limit))
	}

	s, err := openSession(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	entries, err := s.replica.Scan(cmd.Context(), engine.ScanOptions{
		Prefix: opts.Prefix,
		Start:  opts.Start,
		Limit:  opts.Limit,
	})
	if err != nil {
		return failRead(f, err)
	}

	out := ScanOutput{Entries: make([]Entry, len(entries))}
	for i, e := range entries {
		out.Entries[i] = Entry{Key: e.Key, Value: e.Value}
	}
	return f.Success(out)
}
