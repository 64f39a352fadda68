package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span failed. A nil err is ignored.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetOutcome stamps a submission outcome on span and marks it failed unless
// the attempt succeeded.
func SetOutcome(span trace.Span, outcome string, success bool, message string) {
	span.SetAttributes(attribute.String(OutcomeKey, outcome))

	if success {
		span.SetStatus(codes.Ok, "")

		return
	}

	span.AddEvent("submission_failed", trace.WithAttributes(attribute.String(OutcomeKey, outcome)))
	span.SetStatus(codes.Error, message)
}
