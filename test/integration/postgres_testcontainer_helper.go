package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"
	"github.com/sandeepkv93/product-catalog-backend/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const postgresTestImage = "docker.io/library/postgres:16-alpine"

// newPostgresDB starts a disposable postgres server and returns a migrated
// connection to it.
func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image: postgresTestImage,
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "products_db",
		},
		// The entrypoint starts a temporary server for init scripts first.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "POSTGRES_TEST_IMAGE", "5432/tcp")

	db, err := database.Open(&config.Config{
		DBDriver:          config.DriverPostgres,
		DatabaseURL:       fmt.Sprintf("postgres://postgres:postgres@%s/products_db?sslmode=disable", addr),
		DBPoolMax:         4,
		DBPoolMin:         1,
		DBConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return db
}
