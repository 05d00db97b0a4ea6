package observability

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InitTracing initializes OpenTelemetry tracing with a Jaeger exporter for
// one of the filepipe binaries. Config via env:
//
//	OTEL_EXPORTER_JAEGER_ENDPOINT (e.g. http://localhost:14268/api/traces)
//
// With the env var unset, tracing is a no-op, so a plain filepipe-send or
// filepipe-recv run never depends on a collector being reachable.
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

// transferTracer names the tracer every filepipe span is recorded under.
const transferTracer = "github.com/quantarax/filepipe"

// StartTransferSpan opens a span covering one session's lifecycle, from
// handshake through completion or failure, tagged with the fields an
// operator would filter a trace backend on.
func StartTransferSpan(ctx context.Context, sessionID, direction, filePath string) (context.Context, oteltrace.Span) {
	return otel.Tracer(transferTracer).Start(ctx, "filepipe.transfer",
		oteltrace.WithAttributes(
			attribute.String("filepipe.session_id", sessionID),
			attribute.String("filepipe.direction", direction),
			attribute.String("filepipe.file_path", filePath),
		),
	)
}

// EndTransferSpan records the transfer's outcome on span and closes it.
// err nil means the transfer reached StateCompleted.
func EndTransferSpan(span oteltrace.Span, chunksTransferred uint64, bytesTransferred uint64, err error) {
	span.SetAttributes(
		attribute.Int64("filepipe.chunks_transferred", int64(chunksTransferred)),
		attribute.Int64("filepipe.bytes_transferred", int64(bytesTransferred)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
