package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/exemplar"
)

type AppMetrics struct {
	productOperationCounter   metric.Int64Counter
	productOperationDuration  metric.Float64Histogram
	productValidationFailures metric.Int64Counter
	repositoryOpsCounter      metric.Int64Counter
	idempotencyCounter        metric.Int64Counter
	idempotencyCleanupCounter metric.Int64Counter
	idempotencyCleanupDeleted metric.Float64Histogram
	rateLimitDecisionCounter  metric.Int64Counter
	rateLimitRetryAfter       metric.Float64Histogram
	httpMiddlewareValidation  metric.Int64Counter
	healthCheckResultCounter  metric.Int64Counter
	healthCheckDuration       metric.Float64Histogram
	databaseStartupCounter    metric.Int64Counter
	databaseStartupDuration   metric.Float64Histogram
	toolCommandRuns           metric.Int64Counter
	toolCommandDuration       metric.Float64Histogram
	loadgenRequestsCounter    metric.Int64Counter
}

// Metrics is the result of InitMetrics.
type Metrics struct {
	Provider *sdkmetric.MeterProvider
	Handler  http.Handler
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Metrics, error) {
	if !cfg.OTELMetricsEnabled && !cfg.MetricsPrometheusEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("metrics disabled")
		return &Metrics{Provider: mp}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithExemplarFilter(exemplar.TraceBasedFilter),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "*.duration"},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: durationBuckets},
			},
		)),
	}

	if cfg.OTELMetricsEnabled {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpOptions(cfg, otlpmetricgrpc.WithEndpoint, otlpmetricgrpc.WithInsecure)...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval)),
		))
	}

	var handler http.Handler
	if cfg.MetricsPrometheusEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(instrumentationName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("metrics initialized",
		"otlp_enabled", cfg.OTELMetricsEnabled,
		"otlp_endpoint", cfg.OTELExporterOTLPEndpoint,
		"prometheus_enabled", cfg.MetricsPrometheusEnabled,
	)
	return &Metrics{Provider: mp, Handler: handler}, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
	}
	seconds := func(dst *metric.Float64Histogram, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name, metric.WithUnit("s"), metric.WithDescription(desc))
	}

	counter(&m.productOperationCounter, "product.operation.events", "Product service operations by outcome")
	seconds(&m.productOperationDuration, "product.operation.duration", "Duration of product service operations in seconds")
	counter(&m.productValidationFailures, "product.validation.failures", "Rejected product request payloads")
	counter(&m.repositoryOpsCounter, "repository.operations", "Repository calls by outcome")
	counter(&m.idempotencyCounter, "http.idempotency.events", "Idempotency-Key middleware decisions")
	counter(&m.idempotencyCleanupCounter, "idempotency.cleanup.runs", "Expired idempotency record cleanup runs")
	if err == nil {
		m.idempotencyCleanupDeleted, err = meter.Float64Histogram(
			"idempotency.cleanup.deleted_rows",
			metric.WithDescription("Rows removed per idempotency cleanup run"),
		)
	}
	counter(&m.rateLimitDecisionCounter, "http.rate_limit.decisions", "Rate limiter allow/deny decisions")
	seconds(&m.rateLimitRetryAfter, "http.rate_limit.retry_after", "Retry-after duration in seconds for throttled requests")
	counter(&m.httpMiddlewareValidation, "http.middleware.validation.events", "Request guard outcomes such as body limit rejections")
	counter(&m.healthCheckResultCounter, "health.check.results", "Health dependency check results")
	seconds(&m.healthCheckDuration, "health.check.duration", "Duration of health dependency checks in seconds")
	counter(&m.databaseStartupCounter, "database.startup.events", "Database connect and migrate steps at startup")
	seconds(&m.databaseStartupDuration, "database.startup.duration", "Duration of database startup steps in seconds")
	counter(&m.toolCommandRuns, "tool.command.runs", "CLI tool command runs")
	seconds(&m.toolCommandDuration, "tool.command.duration", "Duration of CLI tool commands in seconds")
	counter(&m.loadgenRequestsCounter, "loadgen.requests", "Requests issued by the load generator")
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordProductOperation(ctx context.Context, operation, outcome string, duration time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.productOperationCounter.Add(ctx, 1, attrs)
	m.productOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

func RecordProductValidationFailure(ctx context.Context, operation string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.productValidationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordIdempotencyEvent(ctx context.Context, scope, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.idempotencyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

func RecordIdempotencyCleanupRun(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.idempotencyCleanupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordIdempotencyCleanupDeletedRows(ctx context.Context, rows int64) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.idempotencyCleanupDeleted.Record(ctx, float64(rows))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope string, retryAfter time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitRetryAfter.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(attribute.String("scope", scope)))
}

func RecordMiddlewareValidationEvent(ctx context.Context, check, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.httpMiddlewareValidation.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("outcome", outcome),
	))
}

func RecordHealthCheckResult(ctx context.Context, check, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.healthCheckResultCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("outcome", outcome),
	))
}

func RecordHealthCheckDuration(ctx context.Context, check string, duration time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.healthCheckDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("check", check)))
}

func RecordDatabaseStartupEvent(ctx context.Context, stage, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.databaseStartupCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

func RecordDatabaseStartupDuration(ctx context.Context, stage string, duration time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.databaseStartupDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func RecordToolCommandRun(ctx context.Context, tool, command, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.toolCommandRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

func RecordToolCommandDuration(ctx context.Context, tool, command, outcome string, duration time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.toolCommandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

func RecordLoadgenRequest(ctx context.Context, operation, statusClass string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.loadgenRequestsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status_class", statusClass),
	))
}
