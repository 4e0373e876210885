// Package telemetry wires OpenTelemetry tracing and metrics for the
// gateway, the same way internal/compact/haiku.go pulls a tracer and
// meter off the global providers rather than threading them through
// every call site.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer scoped to name, matching telemetry.Tracer(name)
// used throughout internal/compact/haiku.go.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns a meter scoped to name, matching telemetry.Meter(name).
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Shutdown is returned by Init and releases exporter resources on daemon
// teardown.
type Shutdown func(context.Context) error

// Init installs global tracer/meter providers. When GATEWAY_OTEL_STDOUT is
// set the providers emit to stdout (useful in development); otherwise a no-op provider is left in place so every
// telemetry.Tracer/Meter call remains safe without a collector configured.
func Init() (Shutdown, error) {
	if os.Getenv("GATEWAY_OTEL_STDOUT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}
