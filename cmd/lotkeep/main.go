// Command lotkeep runs the offline-resilient parking admission client.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lotkeep/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
