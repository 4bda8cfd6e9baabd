package loadgen

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/database/dbtest"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/handler"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/router"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
)

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	db := dbtest.Open(t)
	h := router.NewRouter(router.Dependencies{
		ProductHandler: handler.NewProductHandler(service.NewProductService(repository.NewProductRepository(db))),
		CORSOrigins:    []string{"*"},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunDrivesProductTraffic(t *testing.T) {
	srv := newCatalogServer(t)
	res, err := Run(context.Background(), Config{
		BaseURL:     srv.URL,
		Profile:     "write-heavy",
		Duration:    600 * time.Millisecond,
		RPS:         100,
		Concurrency: 4,
		Seed:        7,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TotalRequests == 0 {
		t.Fatal("expected some requests")
	}
	if res.ByStatus[http.StatusCreated] == 0 {
		t.Fatalf("expected created products, got %v", res.ByStatus)
	}
	if res.ByStatus[http.StatusInternalServerError] != 0 {
		t.Fatalf("unexpected server errors: %v", res.ByStatus)
	}
	if res.Max < res.P95 || res.P95 < res.P50 {
		t.Fatalf("latency percentiles out of order: %+v", res)
	}
}

func TestRunErrorHeavyProducesClientErrors(t *testing.T) {
	srv := newCatalogServer(t)
	res, err := Run(context.Background(), Config{
		BaseURL:     srv.URL,
		Profile:     "error-heavy",
		Duration:    500 * time.Millisecond,
		RPS:         100,
		Concurrency: 2,
		Seed:        1,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ByStatus[http.StatusNotFound]+res.ByStatus[http.StatusBadRequest] == 0 {
		t.Fatalf("expected 4xx responses, got %v", res.ByStatus)
	}
}

func TestRunRejectsUnknownProfile(t *testing.T) {
	_, err := Run(context.Background(), Config{Profile: "chaos"})
	if err == nil || !strings.Contains(err.Error(), "unknown profile") {
		t.Fatalf("expected unknown profile error, got %v", err)
	}
}

func TestPickerRespectsWeights(t *testing.T) {
	p := newPicker([]weightedOp{{OpList, 1}, {OpGet, 0}, {OpCreate, 3}})
	r := rand.New(rand.NewPCG(1, 2))
	counts := map[string]int{}
	for i := 0; i < 4000; i++ {
		counts[p.pick(r)]++
	}
	if counts[OpGet] != 0 {
		t.Fatalf("zero-weight op picked %d times", counts[OpGet])
	}
	if counts[OpCreate] < 2*counts[OpList] {
		t.Fatalf("expected create to dominate list, got %v", counts)
	}
}

func TestPercentileAndSummary(t *testing.T) {
	sorted := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond}
	if got := percentile(sorted, 0.5); got != 2*time.Millisecond {
		t.Fatalf("p50: got %v", got)
	}
	if got := percentile(sorted, 0.95); got != 4*time.Millisecond {
		t.Fatalf("p95: got %v", got)
	}

	lines := Summary(Result{
		TotalRequests: 3,
		ByStatus:      map[int]int64{404: 1, 200: 2},
		ByOperation:   map[string]int64{OpGet: 3},
		P50:           time.Millisecond,
		P95:           2 * time.Millisecond,
		Max:           3 * time.Millisecond,
	})
	i200 := slices.Index(lines, "status_200=2")
	i404 := slices.Index(lines, "status_404=1")
	if i200 < 0 || i404 < 0 || i200 > i404 {
		t.Fatalf("expected sorted status lines, got %v", lines)
	}
	if !slices.Contains(lines, "latency_max=3ms") {
		t.Fatalf("missing latency line: %v", lines)
	}
}

func TestIDPoolTakeRemoves(t *testing.T) {
	p := &idPool{}
	r := rand.New(rand.NewPCG(3, 4))
	if _, ok := p.take(r); ok {
		t.Fatal("expected empty pool")
	}
	p.add(10)
	id, ok := p.take(r)
	if !ok || id != 10 {
		t.Fatalf("expected 10, got %d %v", id, ok)
	}
	if _, ok := p.random(r); ok {
		t.Fatal("expected pool to be empty after take")
	}
}
