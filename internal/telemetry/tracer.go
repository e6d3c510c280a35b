package telemetry

import (
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/engramhq/engram"

// NewTracerProvider builds a provider whose spans land in the structured log.
// Long passes (reconstruction, index rebuilds) run under spans so their batch
// progress is observable without a collector.
func NewTracerProvider(logger *slog.Logger, verbose bool) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&loggingSpanProcessor{verbose: verbose, logger: logger}),
	)
}

func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		return noop.NewTracerProvider().Tracer(scopeName)
	}
	return tp.Tracer(scopeName)
}
