package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestObservability_NilSafe(t *testing.T) {
	var o *Observability

	assert.NotPanics(t, func() {
		o.RecordJobProcessed(context.Background(), "completed")
		o.RecordJobDuration(context.Background(), time.Second, "completed")
		o.RecordIPCount(context.Background(), 3, false)
		_, span := o.StartSpan(context.Background(), "noop")
		span.End()
		o.Shutdown()
	})
}

func TestObservability_WithoutJaeger(t *testing.T) {
	o := New("threat-intel-test", "", true)
	defer o.Shutdown()

	ctx, span := o.StartSpan(context.Background(), "threatintel.query", attribute.Int("min_confidence", 70))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())

	assert.NotPanics(t, func() {
		o.RecordJobProcessed(ctx, "completed")
		o.RecordIPCount(ctx, 2, true)
	})
}

func TestObservability_TracingWithoutMetrics(t *testing.T) {
	o := New("threat-intel-test", "http://127.0.0.1:1/api/traces", false)
	defer o.Shutdown()

	assert.Nil(t, o.meterProvider)
	require.NotNil(t, o.tracing.provider)

	ctx, span := o.StartSpan(context.Background(), "threatintel.query")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NotPanics(t, func() {
		o.RecordJobProcessed(ctx, "completed")
		o.RecordJobDuration(ctx, time.Second, "completed")
		o.RecordIPCount(ctx, 2, false)
	})
}
