package health

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/database"
)

// namedCheck turns a probe function into a Checker reporting under name.
type namedCheck struct {
	name  string
	probe func(ctx context.Context) error
}

func (c namedCheck) Name() string { return c.name }

func (c namedCheck) Check(ctx context.Context) CheckResult {
	if err := c.probe(ctx); err != nil {
		return CheckResult{Name: c.name, Error: err.Error()}
	}
	return CheckResult{Name: c.name, Healthy: true}
}

// NewDBChecker pings the catalog database. A nil db yields no checker.
func NewDBChecker(db *gorm.DB) Checker {
	if db == nil {
		return nil
	}
	return namedCheck{name: "db", probe: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

// NewSchemaChecker reports unready until every embedded migration has been
// applied and the version table is clean.
func NewSchemaChecker(db *gorm.DB) Checker {
	if db == nil {
		return nil
	}
	return namedCheck{name: "schema", probe: func(ctx context.Context) error {
		return database.CheckSchema(ctx, db)
	}}
}

// NewRedisChecker pings the rate limit and idempotency backend.
func NewRedisChecker(client redis.UniversalClient) Checker {
	if client == nil {
		return nil
	}
	return namedCheck{name: "redis", probe: func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(errors.New("redis unreachable"), err)
		}
		return nil
	}}
}
