package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"logistics/internal/config"
)

func TestHeaders_PropagateTraceAcrossMessage(t *testing.T) {
	tp, err := Init(context.Background(), &config.Config{}, "test")
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	sdk := sdktrace.NewTracerProvider()
	ctx, span := sdk.Tracer("test").Start(context.Background(), "create order")
	defer span.End()

	headers := InjectHeaders(ctx, nil)
	require.Contains(t, headers, "traceparent")

	consumed := ExtractHeaders(context.Background(), headers)
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceID(consumed))
}

func TestExtractHeaders_Empty(t *testing.T) {
	ctx := ExtractHeaders(context.Background(), nil)
	assert.Empty(t, TraceID(ctx))
}
