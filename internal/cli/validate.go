package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replica/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Files     int                        `json:"files"`
	Mutators  []string                   `json:"mutators,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
	directory string
}

func (r ValidationResult) RenderText(w io.Writer) error {
	if r.Valid {
		fmt.Fprintf(w, "✓ %d mutator(s) valid in %s\n", len(r.Mutators), r.directory)
		for _, name := range r.Mutators {
			fmt.Fprintf(w, "  %s\n", name)
		}
		return nil
	}
	fmt.Fprintf(w, "✗ %d error(s) in %s\n", len(r.Errors), r.directory)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
	return nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [mutators-dir]",
		Short: "Validate CUE mutator definitions",
		Long: `Compile and validate the CUE mutator definitions in a directory without
opening a replica. Defaults to --mutators or the config's mutators_dir.

Exit codes:
  0 - All mutators valid
  1 - Validation errors
  2 - Command error (directory not found, no CUE files)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Mutators
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	if dir == "" {
		cfg, err := loadConfig(opts)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		dir = cfg.MutatorsDir
	}
	if dir == "" {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput,
			errors.New("no mutators directory given (pass one, or set --mutators or mutators_dir)"))
	}

	loaded, err := compiler.LoadDir(dir)
	if err == nil {
		res := ValidationResult{Valid: true, Files: loaded.FileCount, directory: dir}
		for _, m := range loaded.Mutators {
			f.VerboseLog("Validated mutator: %s (%d op(s))", m.Name, len(m.Ops))
			res.Mutators = append(res.Mutators, m.Name)
		}
		return f.Success(res)
	}

	res := ValidationResult{Valid: false, directory: dir}
	var verrs *compiler.ValidationErrors
	var cerr *compiler.CompileError
	switch {
	case errors.As(err, &verrs):
		res.Errors = verrs.Errors
	case errors.As(err, &cerr):
		line := 0
		if cerr.Pos.IsValid() {
			line = cerr.Pos.Line()
		}
		res.Errors = []compiler.ValidationError{{
			Field:   cerr.Field,
			Message: cerr.Message,
			Code:    compiler.ErrUnsupportedType,
			Line:    line,
		}}
	default:
		return f.Fail(ExitCommandError, ErrCodeMutators, err)
	}

	if opts.Format == "json" {
		if outErr := f.Error(ErrCodeMutators, "validation failed", res); outErr != nil {
			return outErr
		}
	} else if outErr := res.RenderText(f.Writer); outErr != nil {
		return outErr
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(res.Errors)))
}
