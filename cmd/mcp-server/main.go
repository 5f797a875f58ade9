// Command mcp-server runs the shared-context coordination server, in the
// subcommand-tree style of the teacher's example pack CLI (root command
// plus serve/generate-keys/client-config leaves registered in init()).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Shared-context coordination server for multi-agent workflows",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if _, ok := err.(validationError); ok {
		return 1
	}
	return 2
}

type validationError struct{ error }
