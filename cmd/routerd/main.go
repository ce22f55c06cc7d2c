// Command routerd is the operational entrypoint for the transport fabric:
// inspect a buffer directory's ledger state, or run the one-shot legacy
// migration tool (spec.md §9).
//
// Grounded on dsmmcken-dh-cli/src/internal/cmd's root-command-plus-
// subcommand-files layout, collapsed into a single small package since
// routerd's surface is two subcommands rather than a full TUI/exec suite.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "routerd:", err)
		os.Exit(1)
	}
}
