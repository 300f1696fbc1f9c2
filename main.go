// The main package for the factcheck executable.
package main

import (
	"github.com/JakeFAU/factcheck-aggregator/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
