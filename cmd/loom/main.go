// Command loom is the entry point for the local-first narrative generation
// engine. It provides a thin Cobra CLI that constructs a Scene Pipeline
// from a project's config.yaml and drives it for one scene at a time, or
// surfaces provider/retriever diagnostics. Per spec §9, the CLI is glue:
// no narrative logic lives here, only wiring.
package main

import (
	"fmt"
	"os"

	"github.com/loomforge/loom/cmd/loom/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
