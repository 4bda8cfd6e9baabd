package integration

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/database"
	"github.com/sandeepkv93/product-catalog-backend/internal/database/dbtest"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
	"github.com/sandeepkv93/product-catalog-backend/internal/tools/export"
)

func TestExportWritesSnapshotToMinIO(t *testing.T) {
	env := newMinIOIntegrationEnv(t)
	ctx := context.Background()

	db := dbtest.Open(t)
	repo := repository.NewProductRepository(db)
	if _, err := database.SeedProducts(ctx, db, repo, database.SampleProducts(), false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	exportedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	info, snap, err := export.Export(ctx, service.NewProductService(repo), env.store, func() time.Time { return exportedAt })
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(info.Key, "snapshots/") || !strings.HasSuffix(info.Key, ".json") {
		t.Fatalf("unexpected snapshot key %q", info.Key)
	}
	if snap.Count != len(database.SampleProducts()) {
		t.Fatalf("expected %d products, got %d", len(database.SampleProducts()), snap.Count)
	}

	obj := env.mustStatObject(t, info.Key)
	if obj.ContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", obj.ContentType)
	}

	raw, err := env.store.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	var stored export.Snapshot
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if stored.Count != snap.Count || len(stored.Products) != snap.Count {
		t.Fatalf("stored snapshot mismatch: %+v", stored)
	}

	listed, err := env.store.List(ctx)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(listed) != 1 || listed[0].Key != info.Key {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}
