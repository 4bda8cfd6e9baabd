package gomock

//go:generate mockgen -destination=product_service_mock.go -package=gomock github.com/sandeepkv93/product-catalog-backend/internal/service ProductService
//go:generate mockgen -destination=idempotency_store_mock.go -package=gomock github.com/sandeepkv93/product-catalog-backend/internal/service IdempotencyStore
