package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRedisMetricsHookCountsCommandsAndMisses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	hook, err := newRedisMetricsHook(provider.Meter("redis-test"), client.PoolStats)
	if err != nil {
		t.Fatalf("create hook: %v", err)
	}
	client.AddHook(hook)

	if err := client.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := client.Get(ctx, "missing").Result(); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	statuses := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "redis.command.errors" {
				t.Fatalf("redis.Nil must not be counted as an error")
			}
			if m.Name != "redis.command.total" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				total += dp.Value
				if v, ok := dp.Attributes.Value("status"); ok {
					statuses[v.AsString()] = true
				}
			}
		}
	}
	if total < 2 {
		t.Fatalf("expected at least 2 commands counted, got %d", total)
	}
	if !statuses["success"] || !statuses["miss"] {
		t.Fatalf("expected success and miss statuses, got %+v", statuses)
	}
}

func TestRedisCommandStatus(t *testing.T) {
	cases := map[string]error{
		"success": nil,
		"miss":    redis.Nil,
		"error":   errors.New("boom"),
	}
	for want, err := range cases {
		if got := redisCommandStatus(err); got != want {
			t.Fatalf("redisCommandStatus(%v)=%s want %s", err, got, want)
		}
	}
}

func TestClassifyRedisError(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err := client.LPush(ctx, "k", "x").Result()
	if got := classifyRedisError(err); got != "server" {
		t.Fatalf("WRONGTYPE reply classified as %s (%v)", got, err)
	}

	if got := classifyRedisError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); got != "timeout" {
		t.Fatalf("deadline classified as %s", got)
	}
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if got := classifyRedisError(opErr); got != "connection" {
		t.Fatalf("dial error classified as %s", got)
	}
	if got := classifyRedisError(errors.New("unexpected")); got != "other" {
		t.Fatalf("plain error classified as %s", got)
	}
}
