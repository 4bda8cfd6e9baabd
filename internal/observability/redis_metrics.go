package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var redisInstrumentationOnce sync.Once

// InstrumentRedisClient installs command and pool metrics on the client that
// backs rate limiting and idempotency. Only the first call per process has an
// effect.
func InstrumentRedisClient(client redis.UniversalClient, logger *slog.Logger) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	redisInstrumentationOnce.Do(func() {
		hook, err := newRedisMetricsHook(otel.Meter(instrumentationName), client.PoolStats)
		if err != nil {
			logger.Warn("redis metrics disabled", "error", err)
			return
		}
		client.AddHook(hook)
	})
}

type redisMetricsHook struct {
	commands metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newRedisMetricsHook(meter metric.Meter, poolStats func() *redis.PoolStats) (*redisMetricsHook, error) {
	h := &redisMetricsHook{}
	var err error
	if h.commands, err = meter.Int64Counter("redis.command.total",
		metric.WithDescription("Redis commands by command and outcome")); err != nil {
		return nil, err
	}
	if h.failures, err = meter.Int64Counter("redis.command.errors",
		metric.WithDescription("Redis command failures by command and error class; cache misses excluded")); err != nil {
		return nil, err
	}
	if h.duration, err = meter.Float64Histogram("redis.command.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Redis round trip latency; pipelines are recorded once as command=pipeline")); err != nil {
		return nil, err
	}

	saturation, err := meter.Float64ObservableGauge("redis.pool.saturation",
		metric.WithUnit("1"),
		metric.WithDescription("Share of pooled connections in use"))
	if err != nil {
		return nil, err
	}
	waitTimeouts, err := meter.Int64ObservableCounter("redis.pool.timeouts",
		metric.WithDescription("Times a caller gave up waiting for a pooled connection"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := poolStats()
		if stats == nil {
			return nil
		}
		o.ObserveInt64(waitTimeouts, int64(stats.Timeouts))
		if stats.TotalConns > 0 {
			inUse := float64(stats.TotalConns - stats.IdleConns)
			o.ObserveFloat64(saturation, min(max(inUse/float64(stats.TotalConns), 0), 1))
		}
		return nil
	}, saturation, waitTimeouts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *redisMetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *redisMetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		name := strings.ToLower(cmd.Name())
		h.duration.Record(ctx, time.Since(start).Seconds(), outcomeAttrs(name, err))
		h.count(ctx, name, err)
		return err
	}
}

func (h *redisMetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.duration.Record(ctx, time.Since(start).Seconds(), outcomeAttrs("pipeline", err))
		for _, cmd := range cmds {
			h.count(ctx, strings.ToLower(cmd.Name()), cmd.Err())
		}
		return err
	}
}

func (h *redisMetricsHook) count(ctx context.Context, command string, err error) {
	h.commands.Add(ctx, 1, outcomeAttrs(command, err))
	if err != nil && !errors.Is(err, redis.Nil) {
		h.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("error_type", classifyRedisError(err)),
		))
	}
}

func outcomeAttrs(command string, err error) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", redisCommandStatus(err)),
	)
}

func redisCommandStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, redis.Nil):
		return "miss"
	default:
		return "error"
	}
}

// classifyRedisError buckets a failure as timeout, connection, server (an
// error reply such as WRONGTYPE) or other.
func classifyRedisError(err error) string {
	var netErr net.Error
	var opErr *net.OpError
	var replyErr redis.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr), errors.Is(err, redis.ErrClosed):
		return "connection"
	case errors.As(err, &replyErr):
		return "server"
	default:
		return "other"
	}
}
