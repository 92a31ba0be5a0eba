package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "sokoni-test", Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer)
}

func TestNewSpan_NoopProvider(t *testing.T) {
	span, ctx := NewSpan(context.Background(), "feed.build", attribute.Int("viewer_id", 1))
	require.NotNil(t, ctx)
	span.AddAttributes(attribute.Int("groups", 2))
	span.SetError(errors.New("boom"))
	span.End()
}

func TestTrackQuery(t *testing.T) {
	done := TrackQuery("select", "stories")
	assert.NotPanics(t, done)
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestNewExporter_RejectsBadConfig(t *testing.T) {
	_, err := newExporter(context.Background(), TracingConfig{Exporter: "jaeger"})
	assert.ErrorContains(t, err, "unknown tracing exporter")
	_, err = newExporter(context.Background(), TracingConfig{Exporter: "otlp"})
	assert.ErrorContains(t, err, "endpoint")
}

func TestSpan_NilSafe(t *testing.T) {
	var s *Span
	s.AddAttributes(attribute.Int("x", 1))
	s.SetError(errors.New("boom"))
	s.End()
	assert.Empty(t, s.TraceID())
}
