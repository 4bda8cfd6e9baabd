package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/http/response"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
)

// ErrRateLimiterUnavailable wraps backend failures reported by a Limiter.
var ErrRateLimiterUnavailable = errors.New("rate limiter unavailable")

// Limiter decides whether one more request for key fits in the current
// window. When it does not, the duration is how long until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// FailureMode selects what happens to a request when the Limiter errors.
type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// windowCounter records one hit for key and reports the hits so far in the
// current window along with the time left in it.
type windowCounter interface {
	hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// counterLimiter turns a windowCounter into a fixed window Limiter.
type counterLimiter struct {
	counter windowCounter
}

func (l counterLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if key == "" {
		key = "unknown"
	}
	if window <= 0 {
		window = time.Second
	}
	hits, resetIn, err := l.counter.hit(ctx, key, window)
	if err != nil {
		return false, window, err
	}
	if hits <= int64(limit) {
		return true, 0, nil
	}
	if resetIn <= 0 || resetIn > window {
		resetIn = window
	}
	return false, resetIn, nil
}

type localWindow struct {
	hits    int64
	resetAt time.Time
}

// memoryWindowCounter is the single instance fallback used when Redis is not
// configured. Expired windows are swept once per sweepEvery.
type memoryWindowCounter struct {
	mu        sync.Mutex
	windows   map[string]*localWindow
	nextSweep time.Time
	now       func() time.Time
}

const sweepEvery = time.Minute

// NewLocalFixedWindowLimiter returns an in-process Limiter.
func NewLocalFixedWindowLimiter() Limiter {
	return counterLimiter{counter: &memoryWindowCounter{
		windows: make(map[string]*localWindow),
		now:     time.Now,
	}}
}

func (c *memoryWindowCounter) hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(c.nextSweep) {
		for k, w := range c.windows {
			if !now.Before(w.resetAt) {
				delete(c.windows, k)
			}
		}
		c.nextSweep = now.Add(sweepEvery)
	}

	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &localWindow{resetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.hits++
	return w.hits, w.resetAt.Sub(now), nil
}

// RateLimiter is the HTTP side of a Limiter: it keys requests by client IP
// and answers 429 with Retry-After once the limit is spent.
type RateLimiter struct {
	limiter Limiter
	limit   int
	window  time.Duration
	mode    FailureMode
	scope   string
}

// NewRateLimiter limits with in-process windows and rejects on error.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewDistributedRateLimiter(NewLocalFixedWindowLimiter(), limit, window, FailClosed, "local")
}

func NewDistributedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{limiter: limiter, limit: limit, window: window, mode: mode, scope: scope}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			allowed, retryAfter, err := rl.limiter.Allow(ctx, clientIPKey(r), rl.limit, rl.window)

			switch {
			case err != nil && rl.mode == FailOpen:
				rl.logBackendError(ctx, err, "backend_error_allowed")
				next.ServeHTTP(w, r)
			case err != nil:
				rl.logBackendError(ctx, err, "backend_error_denied")
				rejectTooManyRequests(w, r, rl.window)
			case !allowed:
				observability.RecordRateLimitDecision(ctx, rl.scope, "denied", string(rl.mode))
				observability.RecordRateLimitRetryAfter(ctx, rl.scope, retryAfter)
				rejectTooManyRequests(w, r, retryAfter)
			default:
				observability.RecordRateLimitDecision(ctx, rl.scope, "allowed", string(rl.mode))
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (rl *RateLimiter) logBackendError(ctx context.Context, err error, outcome string) {
	observability.RecordRateLimitDecision(ctx, rl.scope, outcome, string(rl.mode))
	level := slog.LevelError
	if rl.mode == FailOpen {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "rate limiter backend unavailable",
		"scope", rl.scope,
		"mode", string(rl.mode),
		"outcome", outcome,
		"error", fmt.Errorf("%w: %w", ErrRateLimiterUnavailable, err).Error(),
	)
}

func rejectTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterHeader(retryAfter))
	response.Error(w, r, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
}

// clientIPKey is the rate limit key. chi's RealIP middleware has already
// rewritten RemoteAddr from forwarding headers when it is installed.
func clientIPKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// retryAfterHeader renders d in whole seconds, never less than one.
func retryAfterHeader(d time.Duration) string {
	return strconv.Itoa(max(1, int(d.Round(time.Second)/time.Second)))
}
