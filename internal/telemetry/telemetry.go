// Package telemetry centralizes the ambient logging and tracing stack:
// a slog logger the way the teacher's every package expects it injected,
// and an OpenTelemetry tracer wrapping the suspension points spec.md §5
// names (store, cache, queue, transport calls). Grounded on
// bikemazzell-whatsignal's internal/tracing/opentelemetry.go for the
// TracerProvider/exporter lifecycle, trimmed to the stdout exporter this
// module ships with (no OTLP collector dependency for local operation).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the ambient logging/tracing stack.
type Config struct {
	ServiceName    string
	LogLevel       slog.Level
	TracingEnabled bool
	SampleRatio    float64
}

// Telemetry bundles a structured logger with a tracer provider lifecycle.
type Telemetry struct {
	Logger   *slog.Logger
	Tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// New builds the logger unconditionally and, if cfg.TracingEnabled, an
// OpenTelemetry pipeline exporting spans to stdout.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if !cfg.TracingEnabled {
		logger.Info("tracing disabled")
		return &Telemetry{Logger: logger, Tracer: trace.NewNoopTracerProvider().Tracer(cfg.ServiceName)}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to build resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to build stdout exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing initialized", "service", cfg.ServiceName, "sample_ratio", ratio)

	return &Telemetry{
		Logger:   logger,
		Tracer:   provider.Tracer(cfg.ServiceName),
		provider: provider,
	}, nil
}

// Shutdown flushes and stops the tracer provider, if one was started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(shutdownCtx)
}

// StartSpan is the suspension-point wrapper spec.md §5 calls for: every
// external I/O (store, cache, queue, transport emit) gets one of these.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.Tracer.Start(ctx, name)
}

const instrumentationName = "github.com/webitel/chat-delivery-service"

// StartSpan is the package-level form Store/Cache/Queue/Gateway call
// directly at their suspension points, grounded on
// bikemazzell-whatsignal's tracing.StartSpan: it reads whatever
// TracerProvider New last registered globally via otel.SetTracerProvider,
// falling back to the no-op provider when tracing is disabled, so callers
// don't need a *Telemetry threaded through their constructors.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name)
}
