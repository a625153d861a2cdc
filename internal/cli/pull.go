package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/commit"
	"github.com/roach88/replica/internal/cookie"
	"github.com/roach88/replica/internal/engine"
)

// PullOutput is the output of the pull command.
type PullOutput struct {
	engine.PullResult
	Cookie string `json:"cookie"`
}

func (o PullOutput) RenderText(w io.Writer) error {
	switch o.Outcome {
	case engine.PullStale:
		_, err := fmt.Fprintf(w, "Ignored stale pull (cookie %s)\n", o.Cookie)
		return err
	case engine.PullUnchanged:
		_, err := fmt.Fprintf(w, "Nothing new at cookie %s\n", o.Cookie)
		return err
	}
	fmt.Fprintf(w, "Applied snapshot %s at cookie %s\n", o.Snapshot.Short(), o.Cookie)
	fmt.Fprintf(w, "  head:     %s\n", o.Head.Short())
	fmt.Fprintf(w, "  dropped:  %d\n", o.Dropped)
	fmt.Fprintf(w, "  replayed: %d\n", o.Replayed)
	fmt.Fprintf(w, "  no-ops:   %d\n", o.NoOps)
	return nil
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <response.json|->",
		Short: "Apply a pull response from the server",
		Long: `Apply a pull response: a new cookie, the last mutation IDs the server
has processed, and a patch from the base snapshot.

Pending mutations the server confirmed are dropped and the rest are
replayed on the new snapshot. A fatal error leaves the replica unchanged.

Response format:
  {"cookie": 2,
   "lastMutationIDChanges": {"<client-id>": 3},
   "patch": [{"op": "put", "key": "k", "value": 1},
             {"op": "del", "key": "old"},
             {"op": "clear"}]}

Use - to read the response from stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runPull(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, err)
		}
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}

	resp, err := engine.ParsePullResponse(data)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}

	s, err := openSession(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	res, err := s.replica.ApplyPull(cmd.Context(), resp)
	switch {
	case err == nil:
	case engine.IsNotInitialized(err):
		return failRead(f, err)
	case engine.IsFatal(err):
		s.logger.Error("pull rejected",
			"error", err,
			"inconsistent_mutation", commit.IsInconsistentMutation(err),
			"invalid_cookie", cookie.IsInvalid(err),
		)
		return f.Fail(ExitFailure, ErrCodePull, err)
	default:
		return f.Fail(ExitFailure, ErrCodeBackend, err)
	}

	return f.Success(PullOutput{PullResult: res, Cookie: resp.Cookie.String()})
}
