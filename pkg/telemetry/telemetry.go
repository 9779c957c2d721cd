// Functions for working with OpenTelemetry in deploywatch.

package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/nais/deploywatch/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	otrace "go.opentelemetry.io/otel/trace"
)

// How long between each time OT sends something to the collector.
const batchTimeout = 5 * time.Second

const (
	AttributeDeploymentID  = "deployment.id"
	AttributeCorrelationID = "deployment.correlation_id"
	AttributeRegion        = "deployment.region"
	AttributeInstances     = "deployment.region.instances"
	AttributeRegionCount   = "deployment.region.count"
	AttributePending       = "deployment.regions.pending"
)

// Singleton instance of the default tracer.
// Access it with `Tracer()`.
var tracer *trace.TracerProvider

// Initialize the OpenTelemetry library.
//
// When collectorEndpointURL is empty, spans are recorded but never exported.
//
// You MUST call `Shutdown()` on the tracer provider before exiting,
// lest traces are not sent to the collector.
func New(ctx context.Context, serviceName string, collectorEndpointURL string) (*trace.TracerProvider, error) {
	prop := newPropagator()
	otel.SetTextMapPropagator(prop)

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.OSName(runtime.GOOS),
		semconv.ServiceVersion(version.Version()),
	)

	tracerProvider, err := newTraceProvider(ctx, res, collectorEndpointURL)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tracerProvider)

	tracer = tracerProvider

	return tracerProvider, nil
}

// Returns the top-level tracer.
//
// Falls back to the global (no-op unless configured) tracer when `New()` has not been called.
func Tracer() otrace.Tracer {
	if tracer == nil {
		return otel.Tracer("")
	}
	return tracer.Tracer("")
}

// TraceID returns the trace ID of the span in ctx, or an empty string.
func TraceID(ctx context.Context) string {
	sc := otrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func DeploymentAttributes(deploymentID, correlationID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttributeDeploymentID, deploymentID),
		attribute.String(AttributeCorrelationID, correlationID),
	}
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func newTraceProvider(ctx context.Context, res *resource.Resource, endpointURL string) (*trace.TracerProvider, error) {
	if len(endpointURL) == 0 {
		return trace.NewTracerProvider(trace.WithResource(res)), nil
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpointURL))
	if err != nil {
		return nil, err
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter,
			trace.WithBatchTimeout(batchTimeout)),
		trace.WithResource(res),
	)

	return traceProvider, nil
}
