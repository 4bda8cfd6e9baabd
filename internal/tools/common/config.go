package common

import (
	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"
	"github.com/sandeepkv93/product-catalog-backend/internal/database"
)

// LoadConfig reads envFile into the environment and loads the service config.
func LoadConfig(envFile string) (*config.Config, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	return config.Load()
}

// OpenDB loads config and opens the database. The returned close func
// releases the pool.
func OpenDB(envFile string) (*config.Config, *gorm.DB, func(), error) {
	cfg, err := LoadConfig(envFile)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return cfg, db, closeFn, nil
}
