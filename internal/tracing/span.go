package tracing

import (
	"context"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// AttrWorkerID identifies the worker that dispatched a request.
const AttrWorkerID = attribute.Key("rampfire.worker.id")

// StartRequestSpan opens a client span for one GET against target. The span
// is named after the request path so high-cardinality query strings stay out
// of span names.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, target string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	name := "GET"
	base := []attribute.KeyValue{
		attribute.String("http.request.method", http.MethodGet),
		attribute.String("url.full", target),
	}
	if u, err := url.Parse(target); err == nil {
		if u.Path != "" {
			name = "GET " + u.Path
		}
		base = append(base, attribute.String("server.address", u.Hostname()))
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(base, attrs...)...),
	)
}

// EndRequestSpan records the response status and error, then ends the span.
// A zero status means no response was received.
func EndRequestSpan(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes W3C trace context from ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
