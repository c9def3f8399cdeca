// Command docrag is the entry point for the docrag retrieval-augmented
// generation tool. It ingests documents into a vector index and answers
// questions from them, either from the CLI or through an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docrag-go/cmd/docrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
