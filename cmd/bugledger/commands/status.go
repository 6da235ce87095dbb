package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bugledger/bugledger/internal/report"
	"github.com/bugledger/bugledger/internal/suppress"
)

// NewStatusCommand creates the status subcommand.
func NewStatusCommand() *cobra.Command {
	var runName string

	cmd := &cobra.Command{
		Use:   "status <contextHash>",
		Short: "Show the detection and review status of a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runStatus(ctx, a, args[0], runName)
			})
		},
	}

	cmd.Flags().StringVar(&runName, "run", "", "run name to query")
	_ = cmd.MarkFlagRequired("run") //nolint:errcheck // flag exists

	return cmd
}

func runStatus(ctx context.Context, a *app, contextHash, runName string) error {
	detection, err := a.store.DetectionStatus(ctx, contextHash, runName)
	if err != nil {
		return err
	}

	review, rep, reviewErr := resolveReview(ctx, a, contextHash, runName)
	if reviewErr != nil {
		return reviewErr
	}

	fmt.Fprintf(os.Stdout, "hash:      %s\n", contextHash)

	if rep != nil {
		final := rep.FinalEvent()
		fmt.Fprintf(os.Stdout, "checker:   %s\n", rep.CheckerName)
		fmt.Fprintf(os.Stdout, "severity:  %s\n", severityText(rep.Severity))
		fmt.Fprintf(os.Stdout, "location:  %s:%d:%d\n", final.File, final.Line, final.Column)

		if rep.ContextHashDegraded {
			fmt.Fprintf(os.Stdout, "identity:  degraded (hashed without source)\n")
		}
	}

	fmt.Fprintf(os.Stdout, "detection: %s\n", detectionText(detection))
	fmt.Fprintf(os.Stdout, "review:    %s\n", reviewText(review))

	return nil
}

// resolveReview computes the review status of a live finding: an
// explicit rule wins, then in-source annotations, then UNREVIEWED. The
// returned report is nil when the hash is tracked but no longer live.
func resolveReview(ctx context.Context, a *app, contextHash, runName string) (report.ReviewStatus, *report.Report, error) {
	live, err := a.store.LiveReports(ctx, runName)
	if err != nil {
		return "", nil, err
	}

	var rep *report.Report

	for i := range live {
		if live[i].ContextHash == contextHash {
			rep = &live[i].Report

			break
		}
	}

	rule, ruleErr := a.store.GetReviewRule(ctx, contextHash)
	if ruleErr != nil {
		return "", nil, ruleErr
	}

	if rep == nil {
		// Not live: only an explicit rule can carry a status.
		if rule != nil {
			return rule.Status, nil, nil
		}

		return report.ReviewUnreviewed, nil, nil
	}

	status, resolveErr := suppress.Resolve(rep, rule)
	if resolveErr != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", resolveErr)
	}

	return status, rep, nil
}
