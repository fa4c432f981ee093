package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndFailAttempt(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "node.attempt", attribute.String(RunIDKey, "run-1"))
	FailAttempt(span, errors.New("timeout"), true)
	span.End()

	ended := recorder.Ended()
	if assert.Len(t, ended, 1) {
		assert.Equal(t, "node.attempt", ended[0].Name())
		assert.Equal(t, codes.Error, ended[0].Status().Code)
		assert.Equal(t, "timeout", ended[0].Status().Description)
		assert.Contains(t, ended[0].Attributes(), attribute.String(RunIDKey, "run-1"))
		assert.Contains(t, ended[0].Attributes(), attribute.Bool(RetryableKey, true))

		if assert.Len(t, ended[0].Events(), 1) {
			assert.Equal(t, "exception", ended[0].Events()[0].Name)
			assert.Contains(t, ended[0].Events()[0].Attributes, attribute.Bool(RetryableKey, true))
		}
	}
}

func TestNoopTracer(t *testing.T) {
	_, span := StartSpan(context.Background(), NoopTracer(), "run")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}
