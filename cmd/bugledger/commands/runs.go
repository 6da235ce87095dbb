package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs subcommand.
func NewRunsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, runRuns)
		},
	}
}

func runRuns(ctx context.Context, a *app) error {
	runs, err := a.store.ListRuns(ctx)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no stored runs")

		return nil
	}

	tbl := newTable(os.Stdout)
	tbl.AppendHeader(tableRow("NAME", "REPORTS", "FILES", "ANALYZER", "DURATION", "CREATED"))

	for _, run := range runs {
		tbl.AppendRow(tableRow(run.Name, run.ReportCount, run.FileCount,
			run.AnalyzerVersion, run.Duration.String(), humanize.Time(run.CreatedAt)))
	}

	tbl.Render()

	return nil
}

// NewHistoryCommand creates the history subcommand.
func NewHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <run>",
		Short: "Show the store history of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runHistory(ctx, a, args[0])
			})
		},
	}
}

func runHistory(ctx context.Context, a *app, runName string) error {
	entries, err := a.store.ListHistory(ctx, runName)
	if err != nil {
		return err
	}

	tbl := newTable(os.Stdout)
	tbl.AppendHeader(tableRow("STORED", "TAG", "NEW", "RESOLVED", "UNRESOLVED", "FILES", "DURATION"))

	for _, entry := range entries {
		tbl.AppendRow(tableRow(humanize.Time(entry.StoredAt), entry.Tag,
			entry.NewCount, entry.ResolvedCount, entry.UnresolvedCount,
			entry.FileCount, entry.Duration.String()))
	}

	tbl.Render()

	return nil
}

// NewRemoveCommand creates the rm subcommand.
func NewRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <run>",
		Short: "Remove a run, its history, and its detection statuses",
		Long: `Remove deletes the named run with all of its snapshots and tracked
detection statuses. Review-status rules are never deleted with a run;
they stay in place for any other run matching their context hashes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				removeErr := a.store.RemoveRun(ctx, args[0])
				if removeErr != nil {
					return removeErr
				}

				fmt.Fprintf(os.Stdout, "removed run %q\n", args[0])

				return nil
			})
		},
	}
}
