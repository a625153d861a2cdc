package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// GCOutput is the output of the gc command.
type GCOutput struct {
	Collected int `json:"collected"`
	Remaining int `json:"remaining"`
	Heads     int `json:"heads"`
}

func (o GCOutput) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Collected %d chunk(s); %d remain under %d head(s)\n", o.Collected, o.Remaining, o.Heads)
	return err
}

// NewGCCommand creates the gc command.
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete chunks no head or pin can reach",
		Long: `Delete every chunk whose reference count has dropped to zero, such as
superseded snapshots and replaced mutation chains.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(rootOpts, cmd)
		},
	}
	return cmd
}

func runGC(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	n, err := s.replica.Collect(cmd.Context())
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeBackend, err)
	}
	stats, err := s.store.Stats(cmd.Context())
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeBackend, err)
	}
	f.VerboseLog("Collected %d chunk(s), %d unreferenced left", n, stats.Unreferenced)

	return f.Success(GCOutput{Collected: n, Remaining: stats.Chunks, Heads: stats.Heads})
}
