package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func testSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestInjectExtractRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	sc := testSpanContext(t)
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := Inject(ctx)
	require.Contains(t, headers, "traceparent")

	extracted := Extract(context.Background(), headers)
	got := trace.SpanContextFromContext(extracted)
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
}

func TestExtractEmptyHeadersIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, Extract(ctx, nil))
	assert.Equal(t, ctx, Extract(ctx, map[string]string{}))
}

func TestCaptureRestoreSpan(t *testing.T) {
	sc := testSpanContext(t)
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	captured := CaptureSpan(ctx)
	require.True(t, captured.IsValid())

	restored := RestoreSpan(context.Background(), captured)
	assert.Equal(t, sc.TraceID(), trace.SpanContextFromContext(restored).TraceID())

	// Invalid capture leaves the target context untouched.
	background := context.Background()
	assert.Equal(t, background, RestoreSpan(background, trace.SpanContext{}))
}

func TestSetupWithoutEndpointReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
