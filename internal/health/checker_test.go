package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/product-catalog-backend/internal/database"
	"github.com/sandeepkv93/product-catalog-backend/internal/database/dbtest"
)

type mockChecker struct {
	result CheckResult
	delay  time.Duration
}

func (m mockChecker) Name() string { return m.result.Name }

func (m mockChecker) Check(ctx context.Context) CheckResult {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return CheckResult{Name: m.result.Name, Healthy: false, Error: ctx.Err().Error()}
		}
	}
	return m.result
}

func TestProbeRunnerReady(t *testing.T) {
	runner := NewProbeRunner(200*time.Millisecond, 0,
		mockChecker{result: CheckResult{Name: "db", Healthy: true}},
		mockChecker{result: CheckResult{Name: "redis", Healthy: true}},
	)
	ready, results := runner.Ready(context.Background())
	if !ready {
		t.Fatal("expected ready")
	}
	if len(results) != 2 || results[0].Name != "db" || results[1].Name != "redis" {
		t.Fatalf("expected results in checker order, got %+v", results)
	}
}

func TestProbeRunnerUnready(t *testing.T) {
	runner := NewProbeRunner(200*time.Millisecond, 0,
		mockChecker{result: CheckResult{Name: "db", Healthy: true}},
		mockChecker{result: CheckResult{Name: "redis", Healthy: false, Error: errors.New("down").Error()}},
	)
	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected unready")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestProbeRunnerTimeoutMarksSlowCheckUnhealthy(t *testing.T) {
	runner := NewProbeRunner(20*time.Millisecond, 0,
		mockChecker{result: CheckResult{Name: "slow", Healthy: true}, delay: time.Second},
	)
	start := time.Now()
	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected unready when a check times out")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("probe did not respect timeout, took %v", time.Since(start))
	}
	if results[0].Name != "slow" || results[0].Error == "" {
		t.Fatalf("expected timeout error, got %+v", results[0])
	}
}

// stuckChecker ignores its context.
type stuckChecker struct{ release chan struct{} }

func (stuckChecker) Name() string { return "stuck" }

func (s stuckChecker) Check(context.Context) CheckResult {
	<-s.release
	return CheckResult{Name: "stuck", Healthy: true}
}

func TestProbeRunnerDoesNotWaitForCheckerIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	runner := NewProbeRunner(20*time.Millisecond, 0, stuckChecker{release: release})

	ready, results := runner.Ready(context.Background())
	if ready || results[0].Name != "stuck" || !strings.Contains(results[0].Error, "timed out") {
		t.Fatalf("expected stuck check to time out, ready=%v results=%+v", ready, results)
	}
	if results[0].LatencyMS < 20 {
		t.Fatalf("expected latency of at least the timeout, got %v", results[0].LatencyMS)
	}
}

func TestProbeRunnerSkipsNilCheckers(t *testing.T) {
	runner := NewProbeRunner(time.Second, 0, NewRedisChecker(nil), mockChecker{result: CheckResult{Name: "db", Healthy: true}})
	ready, results := runner.Ready(context.Background())
	if !ready || len(results) != 1 {
		t.Fatalf("expected only db check, ready=%v results=%+v", ready, results)
	}
}

func TestProbeRunnerStartupGrace(t *testing.T) {
	runner := NewProbeRunner(200*time.Millisecond, 2*time.Second,
		mockChecker{result: CheckResult{Name: "db", Healthy: true}},
	)
	clock := runner.startedAt
	runner.now = func() time.Time { return clock }

	ready, results := runner.Ready(context.Background())
	if ready || len(results) != 1 || results[0].Name != "startup_grace" {
		t.Fatalf("expected grace result, ready=%v results=%+v", ready, results)
	}

	clock = clock.Add(2 * time.Second)
	if ready, _ := runner.Ready(context.Background()); !ready {
		t.Fatal("expected ready once the grace period has passed")
	}
}

func TestDBCheckerPingsSQLite(t *testing.T) {
	res := NewDBChecker(dbtest.OpenEmpty(t)).Check(context.Background())
	if !res.Healthy || res.Name != "db" {
		t.Fatalf("expected healthy db check, got %+v", res)
	}
}

func TestSchemaChecker(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	checker := NewSchemaChecker(db)
	if res := checker.Check(ctx); !res.Healthy || res.Name != "schema" {
		t.Fatalf("expected migrated schema to be ready, got %+v", res)
	}

	if err := database.MigrateDown(ctx, db, 1); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	res := checker.Check(ctx)
	if res.Healthy || !strings.Contains(res.Error, "pending migrations") {
		t.Fatalf("expected pending migrations, got %+v", res)
	}

	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec("UPDATE schema_migrations SET dirty = 1").Error; err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if res := checker.Check(ctx); res.Healthy || !strings.Contains(res.Error, "dirty") {
		t.Fatalf("expected dirty schema, got %+v", res)
	}
}

func TestSchemaCheckerWithoutVersionTable(t *testing.T) {
	res := NewSchemaChecker(dbtest.OpenEmpty(t)).Check(context.Background())
	if res.Healthy || res.Error == "" {
		t.Fatalf("expected unmigrated database to be unready, got %+v", res)
	}
}

func TestRedisCheckerWithMiniredis(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewRedisChecker(client)
	if res := checker.Check(context.Background()); !res.Healthy {
		t.Fatalf("expected healthy redis, got %+v", res)
	}

	m.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if res := checker.Check(ctx); res.Healthy || res.Error == "" {
		t.Fatalf("expected unhealthy redis after shutdown, got %+v", res)
	}
}
