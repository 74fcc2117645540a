// Package tracing wires the optional per-cycle span tracer (spec.md §9's
// observability note, SPEC_FULL.md §11.2): when enabled, each source
// cycle's span is written to stdout via otel's stdouttrace exporter.
// Disabled is the default: with no TracerProvider registered, otel.Tracer
// calls elsewhere in the daemon resolve to the package's built-in no-op
// provider and cost nothing.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Shutdown flushes and stops the tracer provider, if one was installed.
type Shutdown func(context.Context) error

var noopShutdown Shutdown = func(context.Context) error { return nil }

// Setup installs a global TracerProvider backed by the stdout exporter
// when enabled is true, and returns a Shutdown to call during daemon
// stop. When enabled is false it installs nothing and returns a no-op
// Shutdown, leaving otel.Tracer callers on the default no-op provider.
func Setup(enabled bool, logger *slog.Logger) (Shutdown, error) {
	if !enabled {
		return noopShutdown, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return noopShutdown, fmt.Errorf("building stdout trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName("egd")))
	if err != nil {
		return noopShutdown, fmt.Errorf("building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("span tracing enabled", "exporter", "stdout")

	return tp.Shutdown, nil
}
