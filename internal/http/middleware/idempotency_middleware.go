package middleware

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/product-catalog-backend/internal/http/response"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
)

const (
	idempotencyHeader         = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotency-Replayed"
	maxIdempotencyKeyLength   = 128
	idempotencyReleaseTimeout = 2 * time.Second
)

// IdempotencyMiddleware makes requests carrying an Idempotency-Key safe to
// retry. The first request with a key runs and its non-5xx response is
// stored; later requests with the same key and the same fingerprint get the
// stored response back. A 5xx response or a panic releases the claim so the
// key can be retried.
type IdempotencyMiddleware struct {
	store service.IdempotencyStore
	ttl   time.Duration
}

func NewIdempotencyMiddleware(store service.IdempotencyStore, ttl time.Duration) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{store: store, ttl: ttl}
}

func (m *IdempotencyMiddleware) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome := m.serve(w, r, scope, next)
			observability.RecordIdempotencyEvent(r.Context(), scope, outcome)
		})
	}
}

// serve handles one request and returns the outcome label recorded for it.
func (m *IdempotencyMiddleware) serve(w http.ResponseWriter, r *http.Request, scope string, next http.Handler) string {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		next.ServeHTTP(w, r)
		return "no_key"
	}
	if !validIdempotencyKey(key) {
		response.Error(w, r, http.StatusBadRequest, "Idempotency-Key must be 1 to 128 visible ASCII characters")
		return "invalid_key"
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(w, r, http.StatusRequestEntityTooLarge, "request entity too large")
		} else {
			response.Error(w, r, http.StatusBadRequest, "invalid request payload")
		}
		return "read_error"
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	fingerprint := fingerprintRequest(r, scope, body)

	begin, err := m.store.Begin(ctx, scope, key, fingerprint, m.ttl)
	if err != nil {
		response.Internal(w, r, err)
		return "store_error"
	}
	switch begin.State {
	case service.IdempotencyStateConflict:
		response.Error(w, r, http.StatusConflict, "Idempotency-Key was already used with a different request")
		return "conflict"
	case service.IdempotencyStateInProgress:
		response.Error(w, r, http.StatusConflict, "A request with this Idempotency-Key is still in progress")
		return "in_progress"
	case service.IdempotencyStateReplay:
		replay(w, begin.Cached)
		return "replayed"
	}

	var captured bytes.Buffer
	ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Tee(&captured)
	defer func() {
		if rec := recover(); rec != nil {
			m.release(ctx, scope, key, fingerprint)
			panic(rec)
		}
	}()
	next.ServeHTTP(ww, r)

	status := cmp.Or(ww.Status(), http.StatusOK)
	if status >= http.StatusInternalServerError {
		m.release(ctx, scope, key, fingerprint)
		return "released"
	}
	stored := service.CachedHTTPResponse{
		StatusCode:  status,
		ContentType: ww.Header().Get("Content-Type"),
		Body:        captured.Bytes(),
	}
	if err := m.store.Complete(ctx, scope, key, fingerprint, stored, m.ttl); err != nil {
		slog.WarnContext(ctx, "idempotency complete failed",
			"scope", scope,
			"key_hash", shortHash(key),
			"error", err,
		)
		return "store_error"
	}
	return "created"
}

// release drops the pending claim after a failed request. It runs on a
// context detached from the request, which may already be cancelled.
func (m *IdempotencyMiddleware) release(ctx context.Context, scope, key, fingerprint string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyReleaseTimeout)
	defer cancel()
	if err := m.store.Release(ctx, scope, key, fingerprint); err != nil {
		slog.WarnContext(ctx, "idempotency release failed",
			"scope", scope,
			"key_hash", shortHash(key),
			"error", err,
		)
	}
}

func validIdempotencyKey(key string) bool {
	if len(key) > maxIdempotencyKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '!' || key[i] > '~' {
			return false
		}
	}
	return true
}

func replay(w http.ResponseWriter, cached *service.CachedHTTPResponse) {
	w.Header().Set(idempotencyReplayedHeader, "true")
	if cached == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

// fingerprintRequest binds a key to the scope, method, route, client and body
// it was first used with.
func fingerprintRequest(r *http.Request, scope string, body []byte) string {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	bodySum := sha256.Sum256(body)
	h := sha256.New()
	for _, part := range []string{scope, r.Method, route, "ip:" + clientIPKey(r), hex.EncodeToString(bodySum[:])} {
		h.Write([]byte(part))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func shortHash(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:6])
}
