// Package observability provides the metric instruments and the optional
// diagnostics HTTP endpoint (health, readiness, Prometheus scrape) of the
// bugledger engine.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRunsStored     = "bugledger.runs.stored.total"
	metricStoreDuration  = "bugledger.store.duration.seconds"
	metricReportsHashed  = "bugledger.reports.hashed.total"
	metricDegradedHashes = "bugledger.hashes.degraded.total"
	metricDiffsComputed  = "bugledger.diffs.computed.total"
	metricInflightStores = "bugledger.inflight.stores"

	attrRun    = "run"
	attrStatus = "status"

	statusError = "error"
	statusOK    = "ok"
)

// storeDurationBoundaries covers 10ms to 300s: a store ranges from a
// handful of reports to a full-repository analysis snapshot.
var storeDurationBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// IngestMetrics holds the OTel instruments of the store and diff paths.
type IngestMetrics struct {
	runsStored     metric.Int64Counter
	storeDuration  metric.Float64Histogram
	reportsHashed  metric.Int64Counter
	degradedHashes metric.Int64Counter
	diffsComputed  metric.Int64Counter
	inflightStores metric.Int64UpDownCounter
}

// NewIngestMetrics creates the ingest instruments from the given meter.
func NewIngestMetrics(mt metric.Meter) (*IngestMetrics, error) {
	b := newMetricBuilder(mt)

	im := &IngestMetrics{
		runsStored:     b.counter(metricRunsStored, "Total number of stored runs", "{run}"),
		storeDuration:  b.histogram(metricStoreDuration, "Store transaction duration in seconds", "s", storeDurationBoundaries...),
		reportsHashed:  b.counter(metricReportsHashed, "Total number of hashed reports", "{report}"),
		degradedHashes: b.counter(metricDegradedHashes, "Total number of degraded context hashes", "{report}"),
		diffsComputed:  b.counter(metricDiffsComputed, "Total number of computed diffs", "{diff}"),
		inflightStores: b.upDownCounter(metricInflightStores, "Number of in-flight store transactions", "{store}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return im, nil
}

// RecordStore records one completed store transaction for a run.
func (im *IngestMetrics) RecordStore(ctx context.Context, run string, err error, duration time.Duration) {
	status := statusOK
	if err != nil {
		status = statusError
	}

	attrs := metric.WithAttributes(
		attribute.String(attrRun, run),
		attribute.String(attrStatus, status),
	)

	im.runsStored.Add(ctx, 1, attrs)
	im.storeDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordHashed records a batch of hashed reports, degraded of which fell
// back to the path-hash derivation.
func (im *IngestMetrics) RecordHashed(ctx context.Context, total, degraded int) {
	im.reportsHashed.Add(ctx, int64(total))
	im.degradedHashes.Add(ctx, int64(degraded))
}

// RecordDiff records one computed diff.
func (im *IngestMetrics) RecordDiff(ctx context.Context) {
	im.diffsComputed.Add(ctx, 1)
}

// TrackStore increments the in-flight store gauge and returns a function
// to decrement it.
func (im *IngestMetrics) TrackStore(ctx context.Context, run string) func() {
	attrs := metric.WithAttributes(attribute.String(attrRun, run))
	im.inflightStores.Add(ctx, 1, attrs)

	return func() {
		im.inflightStores.Add(ctx, -1, attrs)
	}
}
