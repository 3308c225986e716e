// The main package for the feedharvest executable.
package main

import (
	"github.com/JakeFAU/feedharvest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
