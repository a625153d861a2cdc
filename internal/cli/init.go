package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/ir"
)

// InitResult is the output of the init command.
type InitResult struct {
	Head        ir.Hash `json:"head"`
	HeadName    string  `json:"head_name"`
	ClientID    string  `json:"client_id"`
	Backend     string  `json:"backend"`
	Path        string  `json:"path,omitempty"`
	ConfigSaved string  `json:"config_saved,omitempty"`
}

func (r InitResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Initialized %s replica at %s\n", r.Backend, r.Path)
	fmt.Fprintf(w, "  head:      %s -> %s\n", r.HeadName, r.Head.Short())
	fmt.Fprintf(w, "  client ID: %s\n", r.ClientID)
	if r.ConfigSaved != "" {
		fmt.Fprintf(w, "  config:    %s\n", r.ConfigSaved)
	}
	return nil
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the genesis snapshot",
		Long: `Create the replica's genesis snapshot if the head does not exist yet.

Running init on an initialized replica leaves it untouched. When no
client ID is configured, a UUIDv7 is generated; with --config it is
written back to the config file so later commands reuse it.

Example:
  replica --config replica.toml init`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeSession(s)

	head, err := s.replica.Init(cmd.Context())
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeBackend, err)
	}

	res := InitResult{
		Head:     head,
		HeadName: s.replica.HeadName(),
		ClientID: s.replica.ClientID(),
		Backend:  s.cfg.Backend,
		Path:     s.cfg.Path,
	}

	if s.cfg.ClientID == "" && opts.ConfigPath != "" {
		saved := *s.cfg
		saved.ClientID = s.replica.ClientID()
		if err := config.Save(&saved, opts.ConfigPath); err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		res.ConfigSaved = opts.ConfigPath
	}

	return f.Success(res)
}
