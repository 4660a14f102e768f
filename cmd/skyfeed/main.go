// Command skyfeed runs the Bluesky feed generator and its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/skyfeed/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
