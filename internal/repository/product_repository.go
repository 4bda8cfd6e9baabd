package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/domain"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
)

// ProductRepository is the product store. Lookups that miss report
// found=false with a nil error; not-found is never an error here.
type ProductRepository interface {
	Insert(ctx context.Context, draft domain.ProductDraft) (*domain.Product, error)
	FindAll(ctx context.Context) ([]domain.Product, error)
	FindByID(ctx context.Context, id int64) (*domain.Product, bool, error)
	ApplyPartial(ctx context.Context, id int64, patch domain.ProductPatch) (*domain.Product, bool, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
}

// productRecord is the row shape of the products table.
type productRecord struct {
	ID          int64 `gorm:"primaryKey"`
	Name        string
	Description string
	Price       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (productRecord) TableName() string {
	return "products"
}

func toProductRecord(draft domain.ProductDraft, now time.Time) productRecord {
	return productRecord{
		Name:        draft.Name,
		Description: draft.Description,
		Price:       domain.NormalizePrice(draft.Price),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func productFromRecord(rec productRecord) domain.Product {
	return domain.Product{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Price:       domain.NormalizePrice(rec.Price),
		CreatedAt:   rec.CreatedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
	}
}

type GormProductRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewProductRepository(db *gorm.DB) *GormProductRepository {
	return NewProductRepositoryWithClock(db, time.Now)
}

func NewProductRepositoryWithClock(db *gorm.DB, now func() time.Time) *GormProductRepository {
	return &GormProductRepository{db: db, now: now}
}

func (r *GormProductRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func (r *GormProductRepository) Insert(ctx context.Context, draft domain.ProductDraft) (*domain.Product, error) {
	rec := toProductRecord(draft, r.timestamp())
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "product", "insert", "error")
		return nil, fmt.Errorf("insert product: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "insert", "success")
	product := productFromRecord(rec)
	return &product, nil
}

func (r *GormProductRepository) FindAll(ctx context.Context) ([]domain.Product, error) {
	var recs []productRecord
	if err := r.db.WithContext(ctx).Order("id asc").Find(&recs).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "product", "find_all", "error")
		return nil, fmt.Errorf("list products: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "find_all", "success")
	products := make([]domain.Product, 0, len(recs))
	for _, rec := range recs {
		products = append(products, productFromRecord(rec))
	}
	return products, nil
}

func (r *GormProductRepository) FindByID(ctx context.Context, id int64) (*domain.Product, bool, error) {
	var rec productRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "product", "find_by_id", "absent")
			return nil, false, nil
		}
		observability.RecordRepositoryOperation(ctx, "product", "find_by_id", "error")
		return nil, false, fmt.Errorf("find product %d: %w", id, err)
	}
	observability.RecordRepositoryOperation(ctx, "product", "find_by_id", "success")
	product := productFromRecord(rec)
	return &product, true, nil
}

// ApplyPartial writes the present patch fields and refreshes updated_at.
// Existence is decided by the UPDATE itself, and the merged row is read back
// in the same transaction. Missing ids are not created.
func (r *GormProductRepository) ApplyPartial(ctx context.Context, id int64, patch domain.ProductPatch) (*domain.Product, bool, error) {
	updates := map[string]any{"updated_at": r.timestamp()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Price != nil {
		updates["price"] = domain.NormalizePrice(*patch.Price)
	}

	var (
		rec   productRecord
		found bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&productRecord{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		return tx.Where("id = ?", id).Take(&rec).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "product", "apply_partial", "error")
		return nil, false, fmt.Errorf("update product %d: %w", id, err)
	}
	if !found {
		observability.RecordRepositoryOperation(ctx, "product", "apply_partial", "absent")
		return nil, false, nil
	}
	observability.RecordRepositoryOperation(ctx, "product", "apply_partial", "success")
	product := productFromRecord(rec)
	return &product, true, nil
}

func (r *GormProductRepository) DeleteByID(ctx context.Context, id int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&productRecord{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "product", "delete_by_id", "error")
		return 0, fmt.Errorf("delete product %d: %w", id, res.Error)
	}
	outcome := "success"
	if res.RowsAffected == 0 {
		outcome = "absent"
	}
	observability.RecordRepositoryOperation(ctx, "product", "delete_by_id", outcome)
	return res.RowsAffected, nil
}
