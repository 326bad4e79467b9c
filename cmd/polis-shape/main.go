// Package main is the entry point for the polis-shape binary.
// It provides a reverse proxy that optimizes JSON responses and a command for
// shaping JSON documents offline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-shape
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-shape",
		Short: "JSON response optimizer for Polis",
		Long: `Shapes JSON responses: field projection, cycle-safe sanitization,
serialization and content-encoding negotiation.

Examples:
  polis-shape serve --config shape.yaml
  curl -s https://api.example.com/users | polis-shape shape --fields id,name --encoding gzip`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(), newShapeCmd())
	return rootCmd
}
