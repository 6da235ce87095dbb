package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bugledger/bugledger/internal/hashing"
	"github.com/bugledger/bugledger/internal/report"
	"github.com/bugledger/bugledger/internal/suppress"
)

// NewStoreCommand creates the store subcommand.
func NewStoreCommand() *cobra.Command {
	var (
		runName    string
		tag        string
		sourceRoot string
	)

	cmd := &cobra.Command{
		Use:   "store <snapshot.json|->",
		Short: "Hash and store an analysis snapshot under a run name",
		Long: `Store reads a snapshot of analyzer reports, computes the identity
hashes of every report, recomputes detection statuses against the run's
tracked findings, and atomically replaces the run's live report set.

Examples:
  bugledger store results.json --name master
  bugledger store - --name feature-x --tag v2.1 < results.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return runStore(ctx, a, args[0], runName, tag, sourceRoot)
			})
		},
	}

	cmd.Flags().StringVar(&runName, "name", "", "run name to store under")
	cmd.Flags().StringVar(&tag, "tag", "", "tag for this snapshot")
	cmd.Flags().StringVar(&sourceRoot, "source-root", "", "source directory override for context hashing")
	_ = cmd.MarkFlagRequired("name") //nolint:errcheck // flag exists

	return cmd
}

func runStore(ctx context.Context, a *app, inputPath, runName, tag, sourceRoot string) error {
	snap, err := readSnapshot(inputPath)
	if err != nil {
		return err
	}

	root := a.cfg.Hashing.SourceRoot
	if sourceRoot != "" {
		root = sourceRoot
	}

	hasher := hashing.New(root, hashing.WithGoroutines(a.cfg.Hashing.Goroutines))

	hashErr := hasher.HashAll(ctx, snap.Reports)
	if hashErr != nil {
		return hashErr
	}

	degraded := attachWarnings(snap.Reports)
	a.metrics.RecordHashed(ctx, len(snap.Reports), degraded)

	done := a.metrics.TrackStore(ctx, runName)
	defer done()

	start := time.Now()

	entry, storeErr := a.store.StoreRun(ctx, runName, snap, tag)
	a.metrics.RecordStore(ctx, runName, storeErr, time.Since(start))

	if storeErr != nil {
		return storeErr
	}

	fmt.Fprintf(os.Stdout, "stored %d reports to %q", len(snap.Reports), runName)

	if tag != "" {
		fmt.Fprintf(os.Stdout, " (tag %s)", tag)
	}

	fmt.Fprintf(os.Stdout, ": %d new, %d resolved, %d unresolved\n",
		entry.NewCount, entry.ResolvedCount, entry.UnresolvedCount)

	if degraded > 0 {
		slog.Warn("context hashes degraded to path-hash derivation", "count", degraded)
	}

	return nil
}

// readSnapshot opens and parses the snapshot input; "-" reads stdin.
func readSnapshot(inputPath string) (*report.Snapshot, error) {
	var input io.Reader = os.Stdin

	if inputPath != "-" {
		file, err := os.Open(inputPath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
		defer file.Close()

		input = file
	}

	return report.ParseSnapshot(input)
}

// attachWarnings records suppression ambiguities on their reports and
// returns the degraded-hash count for metrics.
func attachWarnings(reports []report.Report) int {
	degraded := 0

	for i := range reports {
		rep := &reports[i]

		if rep.ContextHashDegraded {
			degraded++
		}

		for _, warning := range suppress.CheckAnnotations(rep) {
			rep.Warnings = append(rep.Warnings, warning)
			slog.Warn("ambiguous suppression", "checker", rep.CheckerName, "hash", rep.ContextHash)
		}
	}

	return degraded
}
