package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
)

// CheckResult is one dependency's entry in the readiness response.
type CheckResult struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// ProbeRunner answers readiness by running every checker concurrently. A
// checker that has not answered within timeout is reported unhealthy even if
// it ignores its context. Until gracePeriod has passed since construction the
// service reports unready.
type ProbeRunner struct {
	checkers    []Checker
	timeout     time.Duration
	gracePeriod time.Duration
	startedAt   time.Time
	now         func() time.Time
}

// NewProbeRunner drops nil checkers, so optional dependencies can be passed
// unconditionally.
func NewProbeRunner(timeout, gracePeriod time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = time.Second
	}
	r := &ProbeRunner{timeout: timeout, gracePeriod: gracePeriod, now: time.Now}
	r.startedAt = r.now()
	for _, c := range checkers {
		if c != nil {
			r.checkers = append(r.checkers, c)
		}
	}
	return r
}

// Ready reports whether every dependency is healthy, with one result per
// checker in registration order.
func (r *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if r == nil {
		return true, nil
	}
	if r.now().Sub(r.startedAt) < r.gracePeriod {
		return false, []CheckResult{{Name: "startup_grace", Error: "startup grace period active"}}
	}

	results := make([]CheckResult, len(r.checkers))
	var g errgroup.Group
	for i, c := range r.checkers {
		g.Go(func() error {
			results[i] = r.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, res := range results {
		ready = ready && res.Healthy
	}
	return ready, results
}

func (r *ProbeRunner) run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() { done <- c.Check(ctx) }()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = CheckResult{Name: c.Name(), Error: "check timed out after " + r.timeout.String()}
	}
	elapsed := time.Since(start)
	res.LatencyMS = float64(elapsed.Microseconds()) / 1000

	outcome := "healthy"
	if !res.Healthy {
		outcome = "unhealthy"
	}
	observability.RecordHealthCheckResult(ctx, res.Name, outcome)
	observability.RecordHealthCheckDuration(ctx, res.Name, elapsed)
	return res
}
