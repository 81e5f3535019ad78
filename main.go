// The main package for the grab executable.
package main

import (
	"github.com/JakeFAU/fotopedia-grab/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
