package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bugledger/bugledger/internal/report"
	"github.com/bugledger/bugledger/internal/ruleschema"
	"github.com/bugledger/bugledger/internal/storage"
)

// NewReviewCommand creates the review subcommand tree.
func NewReviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Manage review-status rules",
		Long: `Review-status rules assign a human disposition (CONFIRMED,
FALSE_POSITIVE, INTENTIONAL) to a finding by its context hash. A rule
overrides any in-source suppression annotation and applies across runs.`,
	}

	cmd.AddCommand(reviewSetCmd())
	cmd.AddCommand(reviewRemoveCmd())
	cmd.AddCommand(reviewListCmd())
	cmd.AddCommand(reviewImportCmd())
	cmd.AddCommand(reviewCleanupCmd())

	return cmd
}

func reviewSetCmd() *cobra.Command {
	var (
		statusStr    string
		message      string
		author       string
		checkerScope string
		fileScope    string
	)

	cmd := &cobra.Command{
		Use:   "set <contextHash>",
		Short: "Create or replace the rule for a context hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				status, err := report.ParseReviewStatus(statusStr)
				if err != nil {
					return err
				}

				setErr := a.store.SetReviewRule(ctx, report.ReviewRule{
					ContextHash:  args[0],
					Status:       status,
					Message:      message,
					Author:       author,
					CheckerScope: checkerScope,
					FileScope:    fileScope,
				})
				if setErr != nil {
					return setErr
				}

				fmt.Fprintf(os.Stdout, "rule set: %s -> %s\n", shortHash(args[0]), status)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusStr, "status", "", "review status: CONFIRMED, FALSE_POSITIVE, INTENTIONAL, or UNREVIEWED")
	cmd.Flags().StringVar(&message, "message", "", "justification text")
	cmd.Flags().StringVar(&author, "author", "", "rule author")
	cmd.Flags().StringVar(&checkerScope, "checker", "", "narrow the rule to one checker name")
	cmd.Flags().StringVar(&fileScope, "file", "", "narrow the rule to files containing this substring")
	_ = cmd.MarkFlagRequired("status") //nolint:errcheck // flag exists

	return cmd
}

func reviewRemoveCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rm <contextHash>",
		Short: "Delete the rule for a context hash",
		Long: `Deleting a rule with zero live matching reports is always safe.
Deleting one with live matches resets those reports to UNREVIEWED and
requires --confirm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				err := a.store.RemoveReviewRule(ctx, args[0], confirm)

				var conflict *storage.OrphanRuleConflictError
				if errors.As(err, &conflict) {
					return fmt.Errorf("%w (re-run with --confirm to reset them to UNREVIEWED)", err)
				}

				if err != nil {
					return err
				}

				fmt.Fprintf(os.Stdout, "rule removed: %s\n", shortHash(args[0]))

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "allow deleting a rule with live matching reports")

	return cmd
}

func reviewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all rules with their live match counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rules, err := a.store.ListReviewRules(ctx)
				if err != nil {
					return err
				}

				if len(rules) == 0 {
					fmt.Fprintln(os.Stdout, "no review-status rules")

					return nil
				}

				tbl := newTable(os.Stdout)
				tbl.AppendHeader(tableRow("HASH", "STATUS", "LIVE", "AUTHOR", "CREATED", "MESSAGE"))

				for _, rule := range rules {
					tbl.AppendRow(tableRow(shortHash(rule.ContextHash), reviewText(rule.Status),
						rule.LiveMatches, rule.Author, humanize.Time(rule.CreatedAt), rule.Message))
				}

				tbl.Render()

				return nil
			})
		},
	}
}

func reviewImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <rules.json>",
		Short: "Bulk-import rules from a schema-validated JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runReviewImport(ctx, a, args[0])
			})
		},
	}
}

func runReviewImport(ctx context.Context, a *app, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open rules document: %w", err)
	}
	defer file.Close()

	rules, parseErr := ruleschema.ParseRules(file)
	if parseErr != nil {
		return parseErr
	}

	// The whole document validated; apply it as one transaction.
	setErr := a.store.SetReviewRules(ctx, rules)
	if setErr != nil {
		return setErr
	}

	fmt.Fprintf(os.Stdout, "imported %d rule(s)\n", len(rules))

	return nil
}

func reviewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every orphaned rule (zero live matches)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				removed, err := a.store.CleanupOrphanRules(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintf(os.Stdout, "removed %d orphaned rule(s)\n", removed)

				return nil
			})
		},
	}
}
