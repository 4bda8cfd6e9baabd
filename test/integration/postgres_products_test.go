package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/sandeepkv93/product-catalog-backend/internal/database"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
)

func TestPostgresProductLifecycle(t *testing.T) {
	db := newPostgresDB(t)
	s := newCatalogServer(t, db, nil)

	resp, raw := s.do(t, http.MethodPost, "/products", `{"name":"Keyboard","description":"mechanical","price":99999999.99}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", resp.StatusCode, raw)
	}
	created := decodeJSON[productBody](t, raw)
	if created.Price != 99999999.99 {
		t.Fatalf("price lost precision: %v", created.Price)
	}

	path := fmt.Sprintf("/products/%d", created.ID)
	resp, raw = s.do(t, http.MethodPatch, path, `{"name":"Keyboard TKL"}`, nil)
	if resp.StatusCode != http.StatusOK || decodeJSON[productBody](t, raw).Name != "Keyboard TKL" {
		t.Fatalf("update: %d %s", resp.StatusCode, raw)
	}

	resp, _ = s.do(t, http.MethodDelete, path, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, path, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestPostgresMigrationsAndSeed(t *testing.T) {
	ctx := context.Background()
	db := newPostgresDB(t)

	status, err := database.Status(ctx, db)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Dialect != "postgres" || status.CurrentVersion != status.LatestVersion || len(status.Pending) != 0 || status.Dirty {
		t.Fatalf("unexpected migration status: %+v", status)
	}

	store := repository.NewProductRepository(db)
	first, err := database.SeedProducts(ctx, db, store, database.SampleProducts(), false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if first.Created != len(database.SampleProducts()) {
		t.Fatalf("expected all samples created, got %+v", first)
	}
	second, err := database.SeedProducts(ctx, db, store, database.SampleProducts(), false)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if second.Created != 0 || second.Skipped != first.Created {
		t.Fatalf("reseed must be a no-op: %+v", second)
	}

	if err := database.MigrateDown(ctx, db, 0); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	status, err = database.Status(ctx, db)
	if err != nil {
		t.Fatalf("status after down: %v", err)
	}
	if status.CurrentVersion != 0 {
		t.Fatalf("expected version 0 after full rollback, got %+v", status)
	}
}
