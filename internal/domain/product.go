package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Price always carries exactly two fractional
// digits.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductDraft is a product that has not been stored yet.
type ProductDraft struct {
	Name        string
	Description string
	Price       decimal.Decimal
}

// ProductPatch holds a partial update. Nil fields keep their stored value.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
}
