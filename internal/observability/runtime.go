package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Runtime struct {
	LoggerProvider *sdklog.LoggerProvider
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider

	// MetricsHandler serves the Prometheus exposition format. Nil when
	// METRICS_PROMETHEUS_ENABLED is off.
	MetricsHandler http.Handler
}

// InitRuntime starts the log, metric and trace pipelines in that order. A
// failure shuts down whatever already started.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	lp, err := InitLogs(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.LoggerProvider = lp

	metrics, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Join(err, rt.Shutdown(ctx))
	}
	rt.MeterProvider = metrics.Provider
	rt.MetricsHandler = metrics.Handler

	if rt.TracerProvider, err = InitTracing(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, rt.Shutdown(ctx))
	}
	return rt, nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Shutdown flushes and stops every provider that was started, tracer first
// so spans ending during shutdown still reach the exporter.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var started []shutdowner
	if r.TracerProvider != nil {
		started = append(started, r.TracerProvider)
	}
	if r.MeterProvider != nil {
		started = append(started, r.MeterProvider)
	}
	if r.LoggerProvider != nil {
		started = append(started, r.LoggerProvider)
	}
	var errs []error
	for _, p := range started {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// otlpOptions builds the endpoint and transport security options shared by
// the three OTLP gRPC exporters.
func otlpOptions[O any](cfg *config.Config, endpoint func(string) O, insecure func() O) []O {
	opts := []O{endpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, insecure())
	}
	return opts
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}
