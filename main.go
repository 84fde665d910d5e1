// The main package for the mixtape-indexer executable.
package main

import (
	"github.com/JakeFAU/mixtape-indexer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
