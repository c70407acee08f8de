package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cabana/internal/logger"
)

var (
	verbose bool
	log     = logger.New()
)

var rootCmd = &cobra.Command{
	Use:   "cabana",
	Short: "Cabana - a session bridge for pool and spa automation panels",
	Long: `Cabana maintains a resilient TCP session to a pool/spa automation panel,
discovers its hardware tree and exposes the panel's state and controls over a
local diagnostics API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(hashpassCmd)
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
