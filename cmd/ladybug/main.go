// Command ladybug inspects and moves the reports captured by a ladybug
// capture engine.
package main

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"

	"github.com/wearefrank/ladybug-sub002/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		atexit.Exit(cli.GetExitCode(err))
	}
	atexit.Exit(cli.ExitSuccess)
}
