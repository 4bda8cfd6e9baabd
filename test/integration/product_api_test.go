package integration

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/http/middleware"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/router"
)

type productBody struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    any    `json:"message"`
	Error      string `json:"error"`
}

func TestProductLifecycle(t *testing.T) {
	s := newCatalogServer(t, nil, nil)

	resp, raw := s.do(t, http.MethodPost, "/products", `{"name":"Desk Lamp","description":"LED lamp","price":19.999}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", resp.StatusCode, raw)
	}
	created := decodeJSON[productBody](t, raw)
	if created.ID == 0 || created.Price != 20.00 || created.Name != "Desk Lamp" {
		t.Fatalf("unexpected created product: %+v", created)
	}
	if created.CreatedAt == "" || created.CreatedAt != created.UpdatedAt {
		t.Fatalf("expected equal timestamps on create: %+v", created)
	}

	resp, raw = s.do(t, http.MethodGet, "/products", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	if list := decodeJSON[[]productBody](t, raw); len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("unexpected list: %s", raw)
	}

	path := fmt.Sprintf("/products/%d", created.ID)
	time.Sleep(5 * time.Millisecond)
	resp, raw = s.do(t, http.MethodPatch, path, `{"price":25.5}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d (%s)", resp.StatusCode, raw)
	}
	updated := decodeJSON[productBody](t, raw)
	if updated.Price != 25.5 || updated.Name != "Desk Lamp" || updated.Description != "LED lamp" {
		t.Fatalf("partial update changed the wrong fields: %+v", updated)
	}
	if updated.CreatedAt != created.CreatedAt {
		t.Fatalf("created_at must not change: %s -> %s", created.CreatedAt, updated.CreatedAt)
	}

	resp, raw = s.do(t, http.MethodGet, path, "", nil)
	if resp.StatusCode != http.StatusOK || decodeJSON[productBody](t, raw).Price != 25.5 {
		t.Fatalf("get after update: %d %s", resp.StatusCode, raw)
	}

	resp, raw = s.do(t, http.MethodDelete, path, "", nil)
	if resp.StatusCode != http.StatusOK || len(raw) != 0 {
		t.Fatalf("delete: expected 200 with empty body, got %d %q", resp.StatusCode, raw)
	}

	resp, raw = s.do(t, http.MethodGet, path, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorBody](t, raw)
	if body.Message != fmt.Sprintf("Product with ID %d not found", created.ID) || body.Error != "Not Found" {
		t.Fatalf("unexpected not found body: %+v", body)
	}

	resp, _ = s.do(t, http.MethodDelete, path, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestProductRequestValidation(t *testing.T) {
	s := newCatalogServer(t, nil, nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{name: "non integer id", method: http.MethodGet, path: "/products/abc", status: http.StatusBadRequest},
		{name: "missing name", method: http.MethodPost, path: "/products", body: `{"description":"d","price":1}`, status: http.StatusBadRequest, want: "name"},
		{name: "negative price", method: http.MethodPost, path: "/products", body: `{"name":"n","description":"d","price":-1}`, status: http.StatusBadRequest, want: "price"},
		{name: "unknown field", method: http.MethodPost, path: "/products", body: `{"name":"n","description":"d","price":1,"sku":"x"}`, status: http.StatusBadRequest, want: "property sku should not exist"},
		{name: "malformed json", method: http.MethodPost, path: "/products", body: `{"name":`, status: http.StatusBadRequest},
		{name: "patch absent", method: http.MethodPatch, path: "/products/999", body: `{"name":"x"}`, status: http.StatusNotFound, want: "Product with ID 999 not found"},
		{name: "oversized body", method: http.MethodPost, path: "/products", body: `{"name":"n","description":"` + strings.Repeat("a", 5000) + `","price":1}`, status: http.StatusRequestEntityTooLarge},
		{name: "unknown route", method: http.MethodGet, path: "/nope", status: http.StatusNotFound, want: "Cannot GET /nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := s.do(t, tc.method, tc.path, tc.body, nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, resp.StatusCode, raw)
			}
			body := decodeJSON[errorBody](t, raw)
			if body.StatusCode != tc.status || body.Error == "" {
				t.Fatalf("unexpected error body: %s", raw)
			}
			if tc.want != "" && !strings.Contains(string(raw), tc.want) {
				t.Fatalf("expected %q in %s", tc.want, raw)
			}
		})
	}
}

func TestCreateIdempotencyReplayAndConflict(t *testing.T) {
	s := newCatalogServer(t, nil, nil)
	headers := map[string]string{"Idempotency-Key": "create-lamp-1"}
	payload := `{"name":"Lamp","description":"desk","price":10}`

	first, firstRaw := s.do(t, http.MethodPost, "/products", payload, headers)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", first.StatusCode)
	}
	second, secondRaw := s.do(t, http.MethodPost, "/products", payload, headers)
	if second.StatusCode != http.StatusCreated || second.Header.Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replayed 201, got %d replayed=%q", second.StatusCode, second.Header.Get("Idempotency-Replayed"))
	}
	if string(firstRaw) != string(secondRaw) {
		t.Fatalf("replay body differs:\n%s\n%s", firstRaw, secondRaw)
	}

	conflict, _ := s.do(t, http.MethodPost, "/products", `{"name":"Other","description":"desk","price":10}`, headers)
	if conflict.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", conflict.StatusCode)
	}

	_, raw := s.do(t, http.MethodGet, "/products", "", nil)
	if list := decodeJSON[[]productBody](t, raw); len(list) != 1 {
		t.Fatalf("expected exactly one product, got %d", len(list))
	}
}

func TestAPIPrefixAndRateLimit(t *testing.T) {
	s := newCatalogServer(t, nil, func(dep *router.Dependencies) {
		dep.APIPrefix = "/api/v1"
		dep.RateLimiter = middleware.NewRateLimiter(2, time.Minute).Middleware()
	})

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodGet, "/api/v1/products", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	resp, raw := s.do(t, http.MethodGet, "/api/v1/products", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d (%s)", resp.StatusCode, raw)
	}

	resp, _ = s.do(t, http.MethodGet, "/health/live", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must bypass the limiter, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/products", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unprefixed route should be 404, got %d", resp.StatusCode)
	}
}
