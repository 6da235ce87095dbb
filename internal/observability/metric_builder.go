package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// metricBuilder creates the ingest instruments off one meter and carries
// the first creation failure, so NewIngestMetrics checks a single error
// after building the whole set.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

// counter creates a monotonic int64 counter.
func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.record(name, err)

	return c
}

// histogram creates a float64 histogram. Callers pass explicit bucket
// boundaries when the default buckets do not fit the measured range, the
// way the store duration histogram does.
func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}

	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := b.meter.Float64Histogram(name, opts...)
	b.record(name, err)

	return h
}

// upDownCounter creates an int64 counter that can go down, for in-flight
// work such as running store transactions.
func (b *metricBuilder) upDownCounter(name, desc, unit string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.record(name, err)

	return c
}

// record keeps the first creation failure; later ones add nothing.
func (b *metricBuilder) record(name string, err error) {
	if err == nil || b.err != nil {
		return
	}

	b.err = fmt.Errorf("create instrument %s: %w", name, err)
}
