// Command castplan plans and converges production allocations.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/castplan/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// Commands report their own failures; usage errors from cobra do not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
