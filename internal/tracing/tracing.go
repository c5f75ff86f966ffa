// Package tracing configures the OpenTelemetry tracer provider used by
// the session's registration path and the reply pipeline's LLM calls.
// Tracing exports to stdout rather than a collector: relaybot has no
// dependency on an external tracing backend, and the spans are mainly
// useful for local debugging of reply latency.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing is active and how spans are tagged.
type Config struct {
	Enabled     bool
	ServiceName string
}

// noopProvider is returned when tracing is disabled, so callers can
// always call Shutdown without a nil check.
type noopProvider struct{}

func (noopProvider) Shutdown(context.Context) error { return nil }

// Provider is satisfied by both the real SDK provider and noopProvider.
type Provider interface {
	Shutdown(ctx context.Context) error
}

// Init sets the global tracer provider. When cfg.Enabled is false it
// installs otel's built-in no-op tracer and returns a Provider whose
// Shutdown is a no-op, so callers don't need to branch on whether
// tracing is active.
func Init(cfg Config, w io.Writer) (Provider, error) {
	if !cfg.Enabled {
		return noopProvider{}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: new exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}

// Tracer is the package-scoped tracer every instrumented component
// starts spans from.
func Tracer() trace.Tracer {
	return otel.Tracer("relaybot")
}
