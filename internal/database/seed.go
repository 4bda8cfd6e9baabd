package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/domain"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductInserter is the store operation seeding needs.
type ProductInserter interface {
	Insert(ctx context.Context, draft domain.ProductDraft) (*domain.Product, error)
}

var sampleProducts = []domain.ProductDraft{
	{Name: "Aspirin 500mg", Description: "Pain reliever and fever reducer, 20 tablets", Price: decimal.RequireFromString("9.99")},
	{Name: "Ibuprofen 200mg", Description: "Anti-inflammatory pain reliever, 24 tablets", Price: decimal.RequireFromString("7.49")},
	{Name: "Vitamin C 1000mg", Description: "Dietary supplement, 60 effervescent tablets", Price: decimal.RequireFromString("12.99")},
	{Name: "Saline Nasal Spray", Description: "Non-medicated nasal moisturizer, 30 ml", Price: decimal.RequireFromString("4.25")},
	{Name: "Digital Thermometer", Description: "Oral and underarm thermometer with fever alarm", Price: decimal.RequireFromString("15.00")},
}

type SeedReport struct {
	Planned int      `json:"planned"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Names   []string `json:"names"`
	DryRun  bool     `json:"dry_run"`
}

// SampleProducts returns a copy of the built-in catalog used by SeedProducts.
func SampleProducts() []domain.ProductDraft {
	out := make([]domain.ProductDraft, len(sampleProducts))
	copy(out, sampleProducts)
	return out
}

// SeedProducts inserts each sample product whose name is not stored yet.
// With dryRun set nothing is written and Created counts what would be.
func SeedProducts(ctx context.Context, db *gorm.DB, store ProductInserter, drafts []domain.ProductDraft, dryRun bool) (*SeedReport, error) {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(ctx, "seed", time.Since(start))
	}()

	report := &SeedReport{Planned: len(drafts), Names: []string{}, DryRun: dryRun}
	for _, draft := range drafts {
		var count int64
		if err := db.WithContext(ctx).Table("products").Where("name = ?", draft.Name).Count(&count).Error; err != nil {
			observability.RecordDatabaseStartupEvent(ctx, "seed", "error")
			return nil, fmt.Errorf("check product %q: %w", draft.Name, err)
		}
		if count > 0 {
			report.Skipped++
			continue
		}
		report.Created++
		report.Names = append(report.Names, draft.Name)
		if dryRun {
			continue
		}
		if _, err := store.Insert(ctx, draft); err != nil {
			observability.RecordDatabaseStartupEvent(ctx, "seed", "error")
			return nil, fmt.Errorf("insert product %q: %w", draft.Name, err)
		}
	}
	observability.RecordDatabaseStartupEvent(ctx, "seed", "success")
	return report, nil
}
