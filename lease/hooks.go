package lease

import (
	"context"
	"time"
)

// MetricsSink receives per-operation counters and duration histograms.
// observability.OTelMetrics satisfies it; the default is a no-op.
type MetricsSink interface {
	Increment(ctx context.Context, name string, value int64, attributes ...string)
	RecordDuration(ctx context.Context, name string, d time.Duration, attributes ...string)
}

// TraceSink opens spans around provider operations. observability.Tracer
// satisfies it; the default is a no-op.
type TraceSink interface {
	Start(ctx context.Context, op string, attributes ...string) (context.Context, func(outcome string))
}

type noopMetrics struct{}

func (noopMetrics) Increment(context.Context, string, int64, ...string) {}
func (noopMetrics) RecordDuration(context.Context, string, time.Duration, ...string) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ ...string) (context.Context, func(string)) {
	return ctx, func(string) {}
}

const (
	metricAcquireAttempts = "leasekeeper.acquire.attempts"
	metricAcquireDuration = "leasekeeper.acquire.duration"
	metricRenewals        = "leasekeeper.renewals"
	metricRenewDuration   = "leasekeeper.renew.duration"
	metricReleases        = "leasekeeper.releases"
	metricLost            = "leasekeeper.lost"
)
