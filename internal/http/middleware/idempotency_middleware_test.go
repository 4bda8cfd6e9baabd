package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/mock/gomock"

	"github.com/sandeepkv93/product-catalog-backend/internal/database/dbtest"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
	servicegomock "github.com/sandeepkv93/product-catalog-backend/internal/service/gomock"
)

const createScope = "products.create"

type errReadCloser struct{}

func (errReadCloser) Read([]byte) (int, error) { return 0, errors.New("read failed") }
func (errReadCloser) Close() error             { return nil }

func createdHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"id":1}`))
}

func newStore(t *testing.T) *servicegomock.MockIdempotencyStore {
	t.Helper()
	return servicegomock.NewMockIdempotencyStore(gomock.NewController(t))
}

func postProduct(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.7:5000"
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func expectBegin(store *servicegomock.MockIdempotencyStore, state service.IdempotencyState, cached *service.CachedHTTPResponse) {
	store.EXPECT().
		Begin(gomock.Any(), createScope, gomock.Any(), gomock.Any(), time.Minute).
		Return(service.IdempotencyBeginResult{State: state, Cached: cached}, nil)
}

func TestIdempotencyMiddlewareRejectsBeforeTouchingStore(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		body     io.ReadCloser
		wantCode int
	}{
		{name: "no key passes through", body: io.NopCloser(strings.NewReader(`{"name":"A"}`)), wantCode: http.StatusCreated},
		{name: "key too long", key: strings.Repeat("a", 129), body: io.NopCloser(strings.NewReader(`{}`)), wantCode: http.StatusBadRequest},
		{name: "key with space", key: "order 42", body: io.NopCloser(strings.NewReader(`{}`)), wantCode: http.StatusBadRequest},
		{name: "non ascii key", key: "idem-é", body: io.NopCloser(strings.NewReader(`{}`)), wantCode: http.StatusBadRequest},
		{name: "unreadable body", key: "req-1", body: errReadCloser{}, wantCode: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// No expectations: any store call fails the test.
			h := NewIdempotencyMiddleware(newStore(t), time.Minute).Middleware(createScope)(http.HandlerFunc(createdHandler))

			req := httptest.NewRequest(http.MethodPost, "/products", nil)
			req.Body = tc.body
			if tc.key != "" {
				req.Header.Set(idempotencyHeader, tc.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestValidIdempotencyKey(t *testing.T) {
	for _, k := range []string{"a", "order-42", "3f1c0f7e-5b1e-4c55-9c0b-0c7d0c1b9a11", strings.Repeat("k", 128)} {
		if !validIdempotencyKey(k) {
			t.Fatalf("expected %q to be valid", k)
		}
	}
	for _, k := range []string{strings.Repeat("k", 129), "tab\there", "café"} {
		if validIdempotencyKey(k) {
			t.Fatalf("expected %q to be invalid", k)
		}
	}
}

func TestIdempotencyMiddlewareBeginFailureIsOpaque500(t *testing.T) {
	store := newStore(t)
	store.EXPECT().
		Begin(gomock.Any(), createScope, "req-2", gomock.Any(), time.Minute).
		Return(service.IdempotencyBeginResult{}, errors.New("redis unavailable"))
	h := NewIdempotencyMiddleware(store, time.Minute).Middleware(createScope)(http.HandlerFunc(createdHandler))

	rr := postProduct(h, "req-2", `{"x":1}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "redis") {
		t.Fatalf("backend error leaked: %s", rr.Body.String())
	}
}

func TestIdempotencyMiddlewareShortCircuitsClaimedKeys(t *testing.T) {
	stored := &service.CachedHTTPResponse{
		StatusCode:  http.StatusCreated,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(`{"id":7}`),
	}
	tests := []struct {
		name     string
		state    service.IdempotencyState
		cached   *service.CachedHTTPResponse
		wantCode int
		wantBody string
		replayed bool
	}{
		{name: "in progress", state: service.IdempotencyStateInProgress, wantCode: http.StatusConflict},
		{name: "fingerprint conflict", state: service.IdempotencyStateConflict, wantCode: http.StatusConflict},
		{name: "replay", state: service.IdempotencyStateReplay, cached: stored, wantCode: http.StatusCreated, wantBody: `{"id":7}`, replayed: true},
		{name: "replay without stored body", state: service.IdempotencyStateReplay, wantCode: http.StatusNoContent, replayed: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			expectBegin(store, tc.state, tc.cached)
			h := NewIdempotencyMiddleware(store, time.Minute).Middleware(createScope)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run for a claimed key")
			}))

			rr := postProduct(h, "req-3", `{"x":1}`)
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
			if got := rr.Header().Get(idempotencyReplayedHeader) == "true"; got != tc.replayed {
				t.Fatalf("replayed header = %v, want %v", got, tc.replayed)
			}
			if tc.wantBody != "" {
				if rr.Body.String() != tc.wantBody || rr.Header().Get("Content-Type") != stored.ContentType {
					t.Fatalf("unexpected replay %q (%s)", rr.Body.String(), rr.Header().Get("Content-Type"))
				}
			}
		})
	}
}

func TestIdempotencyMiddlewareStoresSuccessfulResponse(t *testing.T) {
	store := newStore(t)
	expectBegin(store, service.IdempotencyStateNew, nil)
	store.EXPECT().
		Complete(gomock.Any(), createScope, "req-6", gomock.Any(), gomock.Any(), time.Minute).
		DoAndReturn(func(_ context.Context, _, _, _ string, got service.CachedHTTPResponse, _ time.Duration) error {
			if got.StatusCode != http.StatusCreated || got.ContentType != "application/json" || string(got.Body) != `{"id":1}` {
				t.Fatalf("unexpected stored response %+v", got)
			}
			return nil
		})

	var seenBody string
	h := NewIdempotencyMiddleware(store, time.Minute).Middleware(createScope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		createdHandler(w, r)
	}))

	rr := postProduct(h, "req-6", `{"name":"A"}`)
	if rr.Code != http.StatusCreated || rr.Body.String() != `{"id":1}` {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if seenBody != `{"name":"A"}` {
		t.Fatalf("handler saw body %q", seenBody)
	}
}

func TestIdempotencyMiddlewareReleasesClaimOnServerError(t *testing.T) {
	store := newStore(t)
	expectBegin(store, service.IdempotencyStateNew, nil)
	store.EXPECT().Release(gomock.Any(), createScope, "req-5", gomock.Any()).Return(nil)
	h := NewIdempotencyMiddleware(store, time.Minute).Middleware(createScope)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "downstream failed", http.StatusInternalServerError)
	}))

	if rr := postProduct(h, "req-5", `{"x":1}`); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestIdempotencyMiddlewareReleasesClaimOnPanic(t *testing.T) {
	store := newStore(t)
	expectBegin(store, service.IdempotencyStateNew, nil)
	store.EXPECT().Release(gomock.Any(), createScope, "req-8", gomock.Any()).Return(errors.New("release failed"))
	h := NewIdempotencyMiddleware(store, time.Minute).Middleware(createScope)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	defer func() {
		if rec := recover(); rec != "handler exploded" {
			t.Fatalf("expected the panic to propagate, got %v", rec)
		}
	}()
	postProduct(h, "req-8", `{"x":1}`)
	t.Fatal("expected panic")
}

func TestIdempotencyMiddlewareRetryAfterServerErrorRuns(t *testing.T) {
	store := service.NewDBIdempotencyStore(dbtest.Open(t))
	calls := 0
	h := NewIdempotencyMiddleware(store, 24*time.Hour).Middleware(createScope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "database unavailable", http.StatusInternalServerError)
			return
		}
		createdHandler(w, r)
	}))

	first := postProduct(h, "k1", `{"name":"A"}`)
	retry := postProduct(h, "k1", `{"name":"A"}`)
	replayed := postProduct(h, "k1", `{"name":"A"}`)

	if first.Code != http.StatusInternalServerError {
		t.Fatalf("expected first attempt to fail with 500, got %d", first.Code)
	}
	if retry.Code != http.StatusCreated {
		t.Fatalf("expected retry to run and return 201, got %d: %s", retry.Code, retry.Body.String())
	}
	if replayed.Code != http.StatusCreated || replayed.Header().Get(idempotencyReplayedHeader) != "true" {
		t.Fatalf("expected the 201 to be replayed, got %d", replayed.Code)
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", calls)
	}
}

func TestIdempotencyMiddlewareCompleteFailureKeepsResponse(t *testing.T) {
	store := newStore(t)
	expectBegin(store, service.IdempotencyStateNew, nil)
	store.EXPECT().
		Complete(gomock.Any(), createScope, "req-7", gomock.Any(), gomock.Any(), time.Minute).
		Return(errors.New("complete failed"))
	h := NewIdempotencyMiddleware(store, time.Minute).Middleware(createScope)(http.HandlerFunc(createdHandler))

	rr := postProduct(h, "req-7", `{"x":1}`)
	if rr.Code != http.StatusCreated || rr.Body.String() != `{"id":1}` {
		t.Fatalf("expected original 201 response, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestIdempotencyMiddlewareReplaysWithRedisStore(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	h := NewIdempotencyMiddleware(service.NewRedisIdempotencyStore(client, "idem_test"), time.Hour).
		Middleware(createScope)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":` + strconv.Itoa(calls) + `}`))
		}))

	first := postProduct(h, "order-42", `{"name":"A"}`)
	second := postProduct(h, "order-42", `{"name":"A"}`)
	conflict := postProduct(h, "order-42", `{"name":"B"}`)

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if second.Body.String() != first.Body.String() || second.Header().Get(idempotencyReplayedHeader) != "true" {
		t.Fatalf("expected replay of %q, got %q", first.Body.String(), second.Body.String())
	}
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409 for different body, got %d", conflict.Code)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestFingerprintRequest(t *testing.T) {
	withRoute := func(r *http.Request, pattern string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.RoutePatterns = []string{pattern}
		return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	req := func(method, path, addr string) *http.Request {
		r := httptest.NewRequest(method, path, nil)
		r.RemoteAddr = addr
		return r
	}
	body := []byte(`{"name":"x"}`)

	a := fingerprintRequest(withRoute(req(http.MethodPatch, "/products/1", "198.51.100.9:1111"), "/products/{id}"), "products", body)
	b := fingerprintRequest(withRoute(req(http.MethodPatch, "/products/2", "198.51.100.9:2222"), "/products/{id}"), "products", body)
	if a != b {
		t.Fatal("expected the route pattern, not the raw path, to be fingerprinted")
	}

	base := fingerprintRequest(req(http.MethodPost, "/products", "198.51.100.9:1111"), "products", body)
	variants := map[string]string{
		"client": fingerprintRequest(req(http.MethodPost, "/products", "203.0.113.5:1111"), "products", body),
		"scope":  fingerprintRequest(req(http.MethodPost, "/products", "198.51.100.9:1111"), "imports", body),
		"body":   fingerprintRequest(req(http.MethodPost, "/products", "198.51.100.9:1111"), "products", []byte(`{}`)),
		"method": fingerprintRequest(req(http.MethodPut, "/products", "198.51.100.9:1111"), "products", body),
	}
	for name, fp := range variants {
		if fp == base {
			t.Fatalf("expected %s to change the fingerprint", name)
		}
	}
}
