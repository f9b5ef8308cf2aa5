package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartExportSpan starts the client span of one metrics delivery. The
// session ID ties every delivery of one monitored page together.
func StartExportSpan(ctx context.Context, tracer trace.Tracer, sessionID, mode, destination string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "perfwatch.export "+mode,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("perfwatch.export.mode", mode))
	if sessionID != "" {
		span.SetAttributes(attribute.String("perfwatch.session.id", sessionID))
	}
	if destination != "" {
		span.SetAttributes(attribute.String("perfwatch.export.destination", destination))
	}
	return ctx, span
}

// StartCollectSpan starts the server span of a received payload, continuing
// the trace carried in headers.
func StartCollectSpan(ctx context.Context, tracer trace.Tracer, headers http.Header) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
	return tracer.Start(ctx, "perfwatch.collect", trace.WithSpanKind(trace.SpanKindServer))
}

// EndSpan finishes a span, recording err when set.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes the W3C trace context of ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
