package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/sandeepkv93/product-catalog-backend"

// Tracer returns the named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + name)
}

// InitTracing installs the global tracer provider and W3C propagators. With
// tracing off the provider records nothing but spans still carry ids, which
// keeps request logs correlated.
func InitTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	var opts []sdktrace.TracerProviderOption
	if cfg.OTELTracingEnabled {
		exporter, err := otlptracegrpc.New(ctx,
			otlpOptions(cfg, otlptracegrpc.WithEndpoint, otlptracegrpc.WithInsecure)...)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create trace resource: %w", err)
		}
		opts = append(opts,
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.OTELTraceSamplingRatio))),
		)
		logger.Info("otel tracing initialized",
			"endpoint", cfg.OTELExporterOTLPEndpoint,
			"sampling_ratio", cfg.OTELTraceSamplingRatio)
	} else {
		logger.Info("otel tracing disabled")
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}
