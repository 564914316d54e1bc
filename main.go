// The main package for the stream-embed-audit executable.
package main

import (
	"github.com/JakeFAU/stream-embed-audit/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
