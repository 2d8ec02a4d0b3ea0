// The main package for the pricealert executable.
package main

import (
	"github.com/JakeFAU/pricealert/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
