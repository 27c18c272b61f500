// Package telemetry provides span-context propagation across goroutine and
// broker boundaries, tracer-provider setup, and the Prometheus collectors
// shared by the pipeline services.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds tracing configuration.
type Config struct {
	// ServiceName labels every span emitted by this process.
	ServiceName string

	// OTLPEndpoint is the gRPC endpoint of the trace collector. Empty
	// disables span export; propagation stays active either way.
	OTLPEndpoint string
}

// LoadConfigFromEnv reads tracing settings for the named service from
// OTEL_EXPORTER_OTLP_ENDPOINT.
func LoadConfigFromEnv(serviceName string) Config {
	return Config{
		ServiceName:  serviceName,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// Setup installs the W3C trace-context propagator and, when an OTLP endpoint
// is configured, a batching tracer provider exporting over gRPC. The returned
// shutdown function flushes pending spans; call it before process exit.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.OTLPEndpoint == "" {
		slog.Debug("Trace export disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	// grpc.NewClient dials lazily; the first batch export opens the
	// connection.
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OTLP endpoint: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res := sdkresource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	slog.Info("Trace export enabled", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("tracer provider shutdown: %w", err)
		}
		return conn.Close()
	}, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Inject captures the span context of ctx as a W3C header map suitable for a
// broker envelope's telemetry_headers field.
func Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier
}

// Extract returns a context carrying the remote span context found in
// headers. A nil or empty map returns ctx unchanged.
func Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// CaptureSpan snapshots the span context of ctx so a worker goroutine can
// re-establish it before running a handler.
func CaptureSpan(ctx context.Context) trace.SpanContext {
	return trace.SpanContextFromContext(ctx)
}

// RestoreSpan re-establishes a captured span context on ctx. Invalid span
// contexts leave ctx unchanged.
func RestoreSpan(ctx context.Context, sc trace.SpanContext) context.Context {
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}
