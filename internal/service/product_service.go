package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandeepkv93/product-catalog-backend/internal/domain"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
)

type ProductService interface {
	Create(ctx context.Context, input CreateProductInput) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id int64) (*domain.Product, error)
	Update(ctx context.Context, id int64, input UpdateProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id int64) error
}

// CreateProductInput is expected to be validated by the caller.
type CreateProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
}

type UpdateProductInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
}

func (in UpdateProductInput) patch() domain.ProductPatch {
	return domain.ProductPatch{Name: in.Name, Description: in.Description, Price: in.Price}
}

type ProductServiceImpl struct {
	repo   repository.ProductRepository
	tracer trace.Tracer
}

func NewProductService(repo repository.ProductRepository) *ProductServiceImpl {
	return &ProductServiceImpl{repo: repo, tracer: observability.Tracer("service")}
}

func (s *ProductServiceImpl) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "product."+op, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil && outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *ProductServiceImpl) Create(ctx context.Context, input CreateProductInput) (product *domain.Product, err error) {
	ctx, span := s.start(ctx, "create")
	start := time.Now()
	outcome := "success"
	defer func() {
		observability.RecordProductOperation(ctx, "create", outcome, time.Since(start))
		finishSpan(span, outcome, err)
	}()

	product, err = s.repo.Insert(ctx, domain.ProductDraft{
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price,
	})
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("create product: %w", err)
	}
	span.SetAttributes(attribute.Int64("product.id", product.ID))
	return product, nil
}

func (s *ProductServiceImpl) List(ctx context.Context) (products []domain.Product, err error) {
	ctx, span := s.start(ctx, "list")
	start := time.Now()
	outcome := "success"
	defer func() {
		observability.RecordProductOperation(ctx, "list", outcome, time.Since(start))
		finishSpan(span, outcome, err)
	}()

	products, err = s.repo.FindAll(ctx)
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("list products: %w", err)
	}
	span.SetAttributes(attribute.Int("product.count", len(products)))
	return products, nil
}

func (s *ProductServiceImpl) Get(ctx context.Context, id int64) (product *domain.Product, err error) {
	ctx, span := s.start(ctx, "get", attribute.Int64("product.id", id))
	start := time.Now()
	outcome := "success"
	defer func() {
		observability.RecordProductOperation(ctx, "get", outcome, time.Since(start))
		finishSpan(span, outcome, err)
	}()

	product, found, err := s.repo.FindByID(ctx, id)
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("get product: %w", err)
	}
	if !found {
		outcome = "not_found"
		return nil, productNotFound(id)
	}
	return product, nil
}

// Update applies the present fields of input. An input with no fields only
// refreshes updated_at.
func (s *ProductServiceImpl) Update(ctx context.Context, id int64, input UpdateProductInput) (product *domain.Product, err error) {
	ctx, span := s.start(ctx, "update", attribute.Int64("product.id", id))
	start := time.Now()
	outcome := "success"
	defer func() {
		observability.RecordProductOperation(ctx, "update", outcome, time.Since(start))
		finishSpan(span, outcome, err)
	}()

	product, found, err := s.repo.ApplyPartial(ctx, id, input.patch())
	if err != nil {
		outcome = "error"
		return nil, fmt.Errorf("update product: %w", err)
	}
	if !found {
		outcome = "not_found"
		return nil, productNotFound(id)
	}
	return product, nil
}

func (s *ProductServiceImpl) Delete(ctx context.Context, id int64) (err error) {
	ctx, span := s.start(ctx, "delete", attribute.Int64("product.id", id))
	start := time.Now()
	outcome := "success"
	defer func() {
		observability.RecordProductOperation(ctx, "delete", outcome, time.Since(start))
		finishSpan(span, outcome, err)
	}()

	affected, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		outcome = "error"
		return fmt.Errorf("delete product: %w", err)
	}
	if affected == 0 {
		outcome = "not_found"
		return productNotFound(id)
	}
	return nil
}
