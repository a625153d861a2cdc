// Command replica is the command line for a local-first key/value replica.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/replica/internal/cli"
)

// ExitErrors have already been reported by the command that returned them.
func main() {
	cmd := cli.NewRootCommand()
	err := cmd.Execute()
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.GetExitCode(err))
}
