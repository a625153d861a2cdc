package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
)

// PendingOutput is the output of the pending command, in the shape a
// push request carries.
type PendingOutput struct {
	ClientID  string                   `json:"clientID"`
	Mutations []engine.PendingMutation `json:"mutations"`
}

func (o PendingOutput) RenderText(w io.Writer) error {
	if len(o.Mutations) == 0 {
		_, err := fmt.Fprintln(w, "No pending mutations.")
		return err
	}
	for _, m := range o.Mutations {
		args, err := ir.MarshalCanonical(m.Args)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s/%d\t%s\t%s\n", m.ClientID, m.MutationID, m.Name, args)
	}
	return nil
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List local mutations the server has not confirmed",
		Long: `List the local mutations above the base snapshot, oldest first.

With --format json the output is the body of a push request.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(rootOpts, cmd)
		},
	}
	return cmd
}

func runPending(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	pending, err := s.replica.Pending(cmd.Context())
	if err != nil {
		return failRead(f, err)
	}
	return f.Success(PendingOutput{ClientID: s.replica.ClientID(), Mutations: pending})
}
