// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orgstat",
	Short: "Aggregate per-repository contribution statistics for a GitHub organization.",
	Long: `orgstat collects commit counts, lines of code, top contributors,
commit-message hygiene, review coverage and a test-presence heuristic across
all repositories of a GitHub organization for a given year. Results are
written to a JSON report that is merged incrementally across runs.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Verbose output is available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
}
