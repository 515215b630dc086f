package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLogLevelGetZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, LogLevelDebug.GetZapLevel())
	assert.Equal(t, zapcore.InfoLevel, LogLevelInfo.GetZapLevel())
	assert.Equal(t, zapcore.WarnLevel, LogLevelWarn.GetZapLevel())
	assert.Equal(t, zapcore.ErrorLevel, LogLevelError.GetZapLevel())
	// unknown levels fall back to info
	assert.Equal(t, zapcore.InfoLevel, LogLevel("bogus").GetZapLevel())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(zapcore.InfoLevel)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Infow("discarded", "key", "value")
		logger.Errorf("discarded %d", 1)
	})
}

func TestTestLoggerObservesEntries(t *testing.T) {
	logger, logs, err := NewTestLogger()
	require.NoError(t, err)

	logger.Infow("lease acquired", "lease", "orders")
	logger.Warnw("lease renewal attempt failed", "attempt", 2)

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "lease acquired", entries[0].Message)
	assert.Equal(t, "orders", entries[0].ContextMap()["lease"])
}

func TestLogWithContextWithoutSpan(t *testing.T) {
	logger, logs, err := NewTestLogger()
	require.NoError(t, err)

	logger.InfoCtx(context.Background(), "no span attached")
	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap(), "trace_id")
}

func TestAttributesFromTags(t *testing.T) {
	attrs := attributesFromTags([]string{"backend", "redis", "lease", "orders"})
	require.Len(t, attrs, 2)
	assert.Equal(t, "backend", string(attrs[0].Key))
	assert.Equal(t, "redis", attrs[0].Value.AsString())

	// an odd trailing tag is dropped
	attrs = attributesFromTags([]string{"backend", "redis", "orphan"})
	assert.Len(t, attrs, 1)

	assert.Empty(t, attributesFromTags(nil))
}

func TestMetricsClient(t *testing.T) {
	logger := NewNopLogger()
	metrics, err := NewMetricsClient(Config{ServiceName: "leasekeeper", ServiceVersion: "test"}, logger)
	require.NoError(t, err)

	// the global meter provider defaults to a no-op; recording must not fail
	assert.NotPanics(t, func() {
		metrics.Increment(context.Background(), "leasekeeper.renewals", 1, "backend", "memory")
		metrics.RecordDuration(context.Background(), "leasekeeper.renew.duration", 5*time.Millisecond)
	})
}

func TestTracerStart(t *testing.T) {
	tracer := NewTracer("leasekeeper-test")

	ctx, end := tracer.Start(context.Background(), "lease.acquire", "lease", "orders")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { end("ok") })

	_, end = tracer.Start(context.Background(), "lease.renew")
	assert.NotPanics(t, func() { end("error") })
}
