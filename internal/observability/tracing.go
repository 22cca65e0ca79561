package observability

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InitTracing initializes OpenTelemetry tracing with a Jaeger exporter.
// Config via env: OTEL_SERVICE_NAME, OTEL_EXPORTER_JAEGER_ENDPOINT (e.g.
// http://localhost:14268/api/traces). With no endpoint set it installs
// nothing and returns a no-op shutdown, leaving the global no-op tracer
// provider in place, so Tracer.StartTransfer is always safe to call.
func InitTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_JAEGER_ENDPOINT")
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp, trace.WithMaxExportBatchSize(512), trace.WithBatchTimeout(5*time.Second)),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer emits one span per transfer, named "transfer" and tagged with
// file_id/peer_id/direction, from admission/MANIFEST-receipt through
// whichever terminal status the transfer reaches. It reads from
// whatever TracerProvider is currently installed via InitTracing (or
// the global no-op provider if InitTracing was never called), so it is
// always safe to construct and use even with tracing disabled.
type Tracer struct {
	tracer oteltrace.Tracer
}

// NewTracer builds a Tracer under the given instrumentation name.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartTransfer opens a span for one transfer's lifetime. Callers must
// call End on the returned TransferSpan exactly once, on whichever
// terminal status the transfer reaches.
func (t *Tracer) StartTransfer(ctx context.Context, fileID, peerID, direction string) (context.Context, *TransferSpan) {
	spanCtx, span := t.tracer.Start(ctx, "transfer",
		oteltrace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.String("peer_id", peerID),
			attribute.String("direction", direction),
		),
	)
	return spanCtx, &TransferSpan{span: span}
}

// TransferSpan wraps the span for one transfer's lifetime.
type TransferSpan struct {
	span oteltrace.Span
}

// End closes the span, recording the transfer's terminal status and,
// for a failure, the reason.
func (s *TransferSpan) End(status string, reason string) {
	s.span.SetAttributes(attribute.String("status", status))
	if reason != "" {
		s.span.SetAttributes(attribute.String("reason", reason))
	}
	s.span.End()
}
