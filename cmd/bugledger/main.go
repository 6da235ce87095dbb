// Package main provides the entry point for the bugledger CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bugledger/bugledger/cmd/bugledger/commands"
	"github.com/bugledger/bugledger/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "bugledger",
		Short: "Bugledger - report identity and differential status engine",
		Long: `Bugledger tracks analyzer findings across runs by content-based
identity, computes per-finding detection statuses, matches review-status
rules and in-source suppressions, and diffs run sets.

Commands:
  store     Hash and store an analysis snapshot under a run name
  diff      Compare the live report sets of two run sets
  status    Show the detection and review status of a finding
  runs      List stored runs
  history   Show the store history of a run
  rm        Remove a run and its history
  review    Manage review-status rules
  export    Export the live report set of a run`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewStoreCommand())
	rootCmd.AddCommand(commands.NewDiffCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewRemoveCommand())
	rootCmd.AddCommand(commands.NewReviewCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "bugledger %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
