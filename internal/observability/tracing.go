// Package observability provides OpenTelemetry integration for distributed tracing.
//
// # Architecture Decision: Local Collector Mode
//
// Traces are exported over OTLP HTTP to a local collector (OpenTelemetry
// Collector, Jaeger all-in-one, or any agent speaking OTLP) instead of a
// vendor API endpoint. This decision was made because:
//
//   - A local collector buffers and retries, so the app never blocks on export
//   - Lower latency (localhost vs internet roundtrip)
//   - The collector handles authentication - no API keys in the app
//   - Switching backends is a collector config change, not a code change
//
// # Quick Start
//
// Run Jaeger all-in-one with the OTLP receiver on the default port:
//
//	docker run --rm -p 16686:16686 -p 4318:4318 jaegertracing/all-in-one
//
// Then enable tracing and ask something:
//
//	RECALL_TRACING_ENABLED=true recall ask "what changed last quarter?"
//
// Spans appear at http://localhost:16686 under the configured service name.
// Genkit traces every model call and embedding request, so retrieval latency
// breaks down per stage without any extra instrumentation.
//
// # Verify the Collector
//
// Test the OTLP endpoint directly:
//
//	curl -v http://localhost:4318/v1/traces
//
// A 405 or 415 response means the receiver is listening; connection refused
// means it is not.
//
// # Configuration
//
// Environment variables (optional):
//   - RECALL_TRACING_ENABLED: Enable trace export (default: false)
//   - RECALL_TRACING_ENDPOINT: Override collector endpoint (default: localhost:4318)
//   - RECALL_TRACING_ENVIRONMENT: Environment tag (default: dev)
//   - RECALL_TRACING_SERVICE_NAME: Service name (default: recall)
//
// Config file (~/.recall/config.yaml):
//
//	tracing:
//	  enabled: true
//	  endpoint: "localhost:4318"
//	  environment: "dev"
//	  service_name: "recall"
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for OTLP trace export setup.
type Config struct {
	// Endpoint is the collector's OTLP HTTP endpoint (default: localhost:4318)
	Endpoint string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the service name attached to exported spans
	ServiceName string
}

// DefaultEndpoint is the default OTLP HTTP endpoint.
const DefaultEndpoint = "localhost:4318"

// Setup registers an OTLP HTTP exporter with Genkit's TracerProvider.
// Traces are sent to the local collector, which forwards them to whatever
// backend it is configured for.
//
// Returns a shutdown function that flushes pending spans.
// If Endpoint is empty, uses DefaultEndpoint (localhost:4318).
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Set OTEL_SERVICE_NAME for Genkit's TracerProvider to pick up.
	// Genkit builds its resource from the standard OTEL env vars.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// Create OTLP HTTP exporter pointing to the local collector.
	// The collector handles authentication and forwarding to the backend.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // localhost doesn't need TLS
	)
	if err != nil {
		slog.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	// Register BatchSpanProcessor with Genkit's TracerProvider
	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	slog.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	// Create a startup span to verify the export pipeline works
	tracer := tracing.TracerProvider().Tracer("recall-init")
	_, span := tracer.Start(ctx, "recall.init")
	span.End()

	return tracing.TracerProvider().Shutdown, nil
}
