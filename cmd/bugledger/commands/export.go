package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bugledger/bugledger/internal/report"
	"github.com/bugledger/bugledger/internal/storage"
	"github.com/bugledger/bugledger/internal/suppress"
	"github.com/bugledger/bugledger/pkg/persist"
)

// exportReport is one exported finding: the stored report and its
// detection status plus the review status resolved at export time.
type exportReport struct {
	storage.StoredReport `yaml:",inline"`

	ReviewStatus report.ReviewStatus `json:"reviewStatus" yaml:"reviewStatus"`
}

// exportState is the on-disk shape of an exported live report set.
type exportState struct {
	Run        string         `json:"run"        yaml:"run"`
	ExportedAt time.Time      `json:"exportedAt" yaml:"exportedAt"`
	Reports    []exportReport `json:"reports"    yaml:"reports"`
}

// NewExportCommand creates the export subcommand.
func NewExportCommand() *cobra.Command {
	var (
		outputDir string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "export <run[:tag]>",
		Short: "Export the live report set of a run to a file",
		Long: `Export writes the live report set of a run reference, with its
detection statuses, to <run>.<ext> in the output directory.

Examples:
  bugledger export master
  bugledger export master:v1.0 --format yaml --output ./exports`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runExport(ctx, a, args[0], outputDir, format)
			})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "output directory")
	cmd.Flags().StringVar(&format, "format", "json", "export format: json, yaml, or gob")

	return cmd
}

func runExport(ctx context.Context, a *app, ref, outputDir, format string) error {
	codec, err := persist.CodecFor(format)
	if err != nil {
		return err
	}

	reports, loadErr := a.store.LiveReports(ctx, ref)
	if loadErr != nil {
		return loadErr
	}

	exported, reviewErr := withReviewStatuses(ctx, a, reports)
	if reviewErr != nil {
		return reviewErr
	}

	persister := persist.NewPersister[exportState](safeRefName(ref), codec)

	saveErr := persister.Save(outputDir, &exportState{
		Run:        ref,
		ExportedAt: time.Now().UTC(),
		Reports:    exported,
	})
	if saveErr != nil {
		return saveErr
	}

	fmt.Fprintf(os.Stdout, "exported %d report(s) to %s%c%s\n",
		len(reports), outputDir, os.PathSeparator, persister.Filename())

	return nil
}

// withReviewStatuses resolves the review status of every report in one
// rule fetch, so the export carries the full status tuple per finding.
func withReviewStatuses(ctx context.Context, a *app, reports []storage.StoredReport) ([]exportReport, error) {
	contextHashes := make([]string, 0, len(reports))
	plain := make([]report.Report, 0, len(reports))

	for i := range reports {
		contextHashes = append(contextHashes, reports[i].ContextHash)
		plain = append(plain, reports[i].Report)
	}

	rules, err := a.store.ReviewRules(ctx, contextHashes)
	if err != nil {
		return nil, err
	}

	statuses := suppress.Statuses(plain, rules)

	exported := make([]exportReport, 0, len(reports))
	for i := range reports {
		exported = append(exported, exportReport{
			StoredReport: reports[i],
			ReviewStatus: statuses[reports[i].ContextHash],
		})
	}

	return exported, nil
}

// safeRefName converts references like "master:v1.0" to filenames.
func safeRefName(ref string) string {
	return strings.ReplaceAll(ref, ":", "-")
}
