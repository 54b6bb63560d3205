// Command copf is the peripheral CLI over the COPF compiler and engine:
// check/compile specs, run the engine, trace a flow's provenance, replay
// the event log for determinism, query the kind/transform graph, and find
// the outputs a source file affects.
package main

import (
	"fmt"
	"os"

	"github.com/Itshalffull/copf/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	root.SilenceErrors = true
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
