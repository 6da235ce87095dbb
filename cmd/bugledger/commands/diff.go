package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bugledger/bugledger/internal/diffengine"
)

// NewDiffCommand creates the diff subcommand.
func NewDiffCommand() *cobra.Command {
	var (
		baseline []string
		target   []string
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare the live report sets of two run sets",
		Long: `Diff unions the live report sets of the baseline and target runs
and shows the selected partition: NEW (in target only), RESOLVED (in
baseline only), or UNRESOLVED (in both). A reference is a run name or
"name:tag" selecting a tagged snapshot.

Examples:
  bugledger diff --baseline master --target feature-x
  bugledger diff --baseline master:v1.0 --target master --mode RESOLVED`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runDiff(ctx, a, baseline, target, mode)
			})
		},
	}

	cmd.Flags().StringSliceVar(&baseline, "baseline", nil, "baseline run references")
	cmd.Flags().StringSliceVar(&target, "target", nil, "target run references")
	cmd.Flags().StringVar(&mode, "mode", string(diffengine.ModeNew), "partition to show: NEW, RESOLVED, or UNRESOLVED")
	_ = cmd.MarkFlagRequired("baseline") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("target")   //nolint:errcheck // flag exists

	return cmd
}

func runDiff(ctx context.Context, a *app, baseline, target []string, modeStr string) error {
	mode, err := diffengine.ParseMode(modeStr)
	if err != nil {
		return err
	}

	result, diffErr := diffengine.New(a.store).Diff(ctx, baseline, target)
	if diffErr != nil {
		return diffErr
	}

	a.metrics.RecordDiff(ctx)

	findings, selectErr := result.Select(mode)
	if selectErr != nil {
		return selectErr
	}

	if len(findings) == 0 {
		fmt.Fprintf(os.Stdout, "no %s findings\n", modeStr)

		return nil
	}

	tbl := newTable(os.Stdout)
	tbl.AppendHeader(tableRow("HASH", "SEVERITY", "CHECKER", "LOCATION", "MESSAGE"))

	for _, finding := range findings {
		location := fmt.Sprintf("%s:%d", finding.File, finding.Line)

		hash := shortHash(finding.ContextHash)
		if finding.Degraded {
			hash += "*"
		}

		tbl.AppendRow(tableRow(hash, severityText(finding.Severity),
			finding.CheckerName, location, finding.Message))
	}

	tbl.Render()
	fmt.Fprintf(os.Stdout, "\n%d %s finding(s)\n", len(findings), modeStr)

	return nil
}
