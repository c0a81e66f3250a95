package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestWithContext_Fields(t *testing.T) {
	log := NewNop()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = context.WithValue(ctx, RequestIDKey, "req-1")

	entry := log.WithContext(ctx)
	assert.Equal(t, "req-1", entry.Data["request_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry.Data["trace_id"])
}

func TestWithContext_NoSpan(t *testing.T) {
	entry := NewNop().WithContext(context.Background())

	assert.NotContains(t, entry.Data, "trace_id")
	assert.NotContains(t, entry.Data, "request_id")
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}
