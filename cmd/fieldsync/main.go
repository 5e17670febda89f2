// Command fieldsync queues writes for the field service API and replays
// them once the API is reachable.
package main

import (
	"fmt"
	"os"

	"github.com/c0deZ3R0/fieldsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
