// Package telemetry installs the process-wide OpenTelemetry providers the
// rest of the coordination core reports against (internal/resilience's
// counters, and the coordinator's operation spans). It stops at provider
// setup: Setup builds an SDK TracerProvider and MeterProvider with no
// exporter or reader attached and takes no options for adding one, so this
// package does not export the recorded data anywhere.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/devsynth/hybridmemory"

// Shutdown flushes and releases the providers installed by Setup.
type Shutdown func(context.Context) error

// Setup installs a TracerProvider and MeterProvider as the process-wide
// otel defaults and returns a Shutdown to release them. Safe to call more
// than once in tests; each call installs a fresh pair of providers.
func Setup() (Shutdown, error) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

// Tracer returns the coordination core's named tracer, so every span in the
// module shares one instrumentation scope.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
