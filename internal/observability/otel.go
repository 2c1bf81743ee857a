// Package observability sets up OpenTelemetry tracing for the service.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type Config struct {
	Enabled     bool
	ServiceName string
	// Exporter is "stdout" or "otlp".
	Exporter string
	Endpoint string
}

// Init installs a global tracer provider and returns its shutdown func.
// When tracing is disabled the returned func is a no-op and the global
// provider stays the default no-op one.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tutormove-visibility"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(name)))
	if err != nil {
		logger.Warn("otel resource init failed (continuing)", "error", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noop, fmt.Errorf("otel exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("otel tracing initialized", "service", name, "exporter", cfg.Exporter)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		var opts []otlptracehttp.Option
		if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(ep))
		}
		return otlptracehttp.New(ctx, opts...)
	case "", "stdout":
		return stdouttrace.New()
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}
