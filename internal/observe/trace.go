package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes every span the bridge records.
const tracerName = "github.com/MrWong99/sensorbridge"

// StartSpan opens a span on the global tracer provider, which is a no-op
// until [InitProvider] has run. End the returned span when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// FailSpan records err on span and sets an error status with a short
// description, e.g. the tone-map outcome "rejected".
func FailSpan(span trace.Span, description string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, description)
}

// TraceID returns the hex trace ID of the span in ctx, or "" outside a span.
// The HTTP middleware echoes it in the X-Trace-Id response header.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default() with args attached. Inside a span the
// trace_id and span_id are added so reload and request logs join up with
// their traces.
func Logger(ctx context.Context, args ...any) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		args = append(args[:len(args):len(args)],
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
