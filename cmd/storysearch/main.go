// Command storysearch is the hybrid search service for product-backlog
// user stories: it indexes them, serves the HTTP search API, and offers
// one-shot queries from the shell.
package main

import (
	"os"

	"github.com/backlogic/storysearch/cmd/storysearch/cmd"
)

func main() {
	// Execute renders any error itself; main only sets the exit code.
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
