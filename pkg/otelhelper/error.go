package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RetryableKey tells whether a failed attempt will be retried.
const RetryableKey = "flow.node.retryable"

// FailAttempt records a failed node attempt on span. The exception event and
// the span both carry whether the engine will retry it.
func FailAttempt(span trace.Span, err error, retryable bool) {
	retry := attribute.Bool(RetryableKey, retryable)

	span.RecordError(err, trace.WithAttributes(retry))
	span.SetAttributes(retry)
	span.SetStatus(codes.Error, err.Error())
}
