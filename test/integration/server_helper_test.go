package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/database/dbtest"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/handler"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/middleware"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/router"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
)

type catalogServer struct {
	srv *httptest.Server
	db  *gorm.DB
}

func newCatalogServer(t *testing.T, db *gorm.DB, mutate func(*router.Dependencies)) *catalogServer {
	t.Helper()
	if db == nil {
		db = dbtest.Open(t)
	}
	dep := router.Dependencies{
		ProductHandler: handler.NewProductHandler(service.NewProductService(repository.NewProductRepository(db))),
		CORSOrigins:    []string{"http://localhost:5173"},
		BodyLimitBytes: 4096,
		RequestTimeout: 5 * time.Second,
		Idempotency:    middleware.NewIdempotencyMiddleware(service.NewDBIdempotencyStore(db), time.Hour).Middleware,
	}
	if mutate != nil {
		mutate(&dep)
	}
	srv := httptest.NewServer(router.NewRouter(dep))
	t.Cleanup(srv.Close)
	return &catalogServer{srv: srv, db: db}
}

func (s *catalogServer) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func decodeJSON[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return out
}
