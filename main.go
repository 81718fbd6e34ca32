// The main package for the imdb-api executable.
package main

import (
	"os"

	"github.com/GMartin-Data/imdb-api/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
