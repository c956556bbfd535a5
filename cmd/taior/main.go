// Taior demo CLI
// Generates ephemeral identities, builds onion-wrapped packets and runs
// the UDP relay fallback server.
package main

import (
	"fmt"
	"os"

	"github.com/taior/taior-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
