// Package commands implements the bugledger CLI subcommands.
package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/bugledger/bugledger/internal/config"
	"github.com/bugledger/bugledger/internal/observability"
	"github.com/bugledger/bugledger/internal/storage"
)

// meterScope names the instrumentation scope of the CLI's instruments.
const meterScope = "github.com/bugledger/bugledger"

// app bundles the resources a subcommand needs: configuration, the run
// repository, ingest metrics, and the optional diagnostics endpoint.
type app struct {
	cfg     *config.Config
	store   *storage.Store
	metrics *observability.IngestMetrics
	diag    *observability.DiagnosticsServer
}

// withApp loads configuration, opens the repository, and runs fn with a
// signal-cancelled context. Resources are released when fn returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	setupLogging(verbose)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	store, openErr := storage.Open(cfg.Storage.Path)
	if openErr != nil {
		return openErr
	}
	defer func() { _ = store.Close() }() //nolint:errcheck // read-side close

	a := &app{cfg: cfg, store: store}

	if cfg.Diagnostics.Enabled {
		diag, diagErr := observability.NewDiagnosticsServer(cfg.Diagnostics.Addr, store.Ping)
		if diagErr != nil {
			return diagErr
		}
		defer func() { _ = diag.Close() }() //nolint:errcheck // best-effort shutdown

		a.diag = diag

		slog.Info("diagnostics endpoint up", "addr", diag.Addr())
	}

	metrics, metricsErr := observability.NewIngestMetrics(a.meter())
	if metricsErr != nil {
		return metricsErr
	}

	a.metrics = metrics

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return fn(ctx, a)
}

// meter returns the diagnostics meter when the endpoint is up, or the
// global (no-op by default) meter otherwise.
func (a *app) meter() metric.Meter {
	if a.diag != nil {
		return a.diag.Meter()
	}

	return otel.Meter(meterScope)
}

// setupLogging installs the default text logger on stderr.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
