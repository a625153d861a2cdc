package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/mutator"
)

// MutateOutput is the output of the mutate command.
type MutateOutput struct {
	Mutator    string  `json:"mutator"`
	ClientID   string  `json:"client_id"`
	MutationID uint64  `json:"mutation_id"`
	Head       ir.Hash `json:"head"`
}

func (o MutateOutput) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s committed as %s/%d (head %s)\n", o.Mutator, o.ClientID, o.MutationID, o.Head.Short())
	return err
}

// NewMutateCommand creates the mutate command.
func NewMutateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mutate <mutator> [args-json]",
		Short: "Run a mutator and commit it locally",
		Long: `Run a registered mutator against the head and commit the result as a
pending local mutation with the next mutation ID for this client.

Args default to {}. Mutators are loaded from --mutators or the config's
mutators_dir.

Example:
  replica mutate inc '{"key":"count","by":2}' --mutators ./mutators`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			return runMutate(rootOpts, args[0], raw, cmd)
		},
	}
	return cmd
}

func runMutate(opts *RootOptions, name, rawArgs string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	args, err := ir.ParseJSON([]byte(rawArgs))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Errorf("invalid args JSON: %w", err))
	}

	s, err := openSession(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	if s.cfg.ClientID == "" {
		return f.Fail(ExitCommandError, ErrCodeConfig,
			errors.New("no client ID configured (use --client-id, or run 'replica --config <file> init')"))
	}

	res, err := s.replica.Mutate(cmd.Context(), name, args)
	switch {
	case err == nil:
	case errors.Is(err, mutator.ErrUnknownMutator):
		return f.Fail(ExitCommandError, ErrCodeNotFound, err)
	case engine.IsNotInitialized(err):
		return failRead(f, err)
	default:
		return f.Fail(ExitFailure, ErrCodeMutation, err)
	}

	return f.Success(MutateOutput{
		Mutator:    name,
		ClientID:   s.replica.ClientID(),
		MutationID: res.MutationID,
		Head:       res.Hash,
	})
}
