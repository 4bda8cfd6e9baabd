package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/cors"

	"github.com/sandeepkv93/product-catalog-backend/internal/http/response"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
)

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets headers suited to a JSON API that is never framed or
// rendered. HSTS is only sent over TLS.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// CORS allows the configured origins. A single "*" allows any origin
// without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := map[string]struct{}{}
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if _, ok := allowed[origin]; ok || allowAll {
				observability.RecordMiddlewareValidationEvent(r.Context(), "cors", "allow_origin")
				return true
			}
			observability.RecordMiddlewareValidationEvent(r.Context(), "cors", "rejected_origin")
			return false
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", idempotencyReplayedHeader},
		AllowCredentials: !allowAll,
		MaxAge:           300,
	})
}

// BodyLimit caps request bodies at maxBytes. A declared Content-Length over
// the cap is answered with 413 at once; otherwise reads past the cap fail
// with *http.MaxBytesError, which handlers turn into 413.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.ContentLength > maxBytes {
				observability.RecordMiddlewareValidationEvent(r.Context(), "body_limit", "rejected_content_length")
				response.Error(w, r, http.StatusRequestEntityTooLarge, "request entity too large")
				return
			}
			r.Body = &meteredBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxBytes), ctx: r.Context()}
			next.ServeHTTP(w, r)
		})
	}
}

// meteredBody records the first failed read of a request body.
type meteredBody struct {
	io.ReadCloser
	ctx  context.Context
	once sync.Once
}

func (b *meteredBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.once.Do(func() {
			outcome := "read_error"
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				outcome = "rejected_too_large"
			}
			observability.RecordMiddlewareValidationEvent(b.ctx, "body_limit", outcome)
		})
	}
	return n, err
}
