package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations
var migrationFiles embed.FS

// MigrationStatus describes the schema version of a database.
type MigrationStatus struct {
	Dialect        string `json:"dialect"`
	CurrentVersion uint   `json:"current_version"`
	LatestVersion  uint   `json:"latest_version"`
	Pending        []uint `json:"pending"`
	Dirty          bool   `json:"dirty"`
}

// Migrate applies every pending up migration.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return withMigrator(ctx, db, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back steps migrations. steps <= 0 rolls back everything.
func MigrateDown(ctx context.Context, db *gorm.DB, steps int) error {
	return withMigrator(ctx, db, func(m *migrate.Migrate) error {
		var err error
		if steps <= 0 {
			err = m.Down()
		} else {
			err = m.Steps(-steps)
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("roll back migrations: %w", err)
		}
		return nil
	})
}

// Status reports the applied and pending migration versions.
func Status(ctx context.Context, db *gorm.DB) (MigrationStatus, error) {
	dialect := db.Dialector.Name()
	status := MigrationStatus{Dialect: dialect}
	versions, err := migrationVersions(dialect)
	if err != nil {
		return status, err
	}
	if len(versions) > 0 {
		status.LatestVersion = versions[len(versions)-1]
	}

	err = withMigrator(ctx, db, func(m *migrate.Migrate) error {
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("read schema version: %w", err)
		}
		status.CurrentVersion = version
		status.Dirty = dirty
		return nil
	})
	if err != nil {
		return status, err
	}
	status.Pending = []uint{}
	for _, v := range versions {
		if v > status.CurrentVersion {
			status.Pending = append(status.Pending, v)
		}
	}
	return status, nil
}

// ErrSchemaBehind is returned by CheckSchema when migrations are pending.
var ErrSchemaBehind = errors.New("schema has pending migrations")

// CheckSchema reads the migration version table directly and compares it with
// the newest embedded migration. It does not take the migration lock.
func CheckSchema(ctx context.Context, db *gorm.DB) error {
	versions, err := migrationVersions(db.Dialector.Name())
	if err != nil {
		return err
	}
	var row struct {
		Version int64
		Dirty   bool
	}
	err = db.WithContext(ctx).
		Raw("SELECT version, dirty FROM schema_migrations LIMIT 1").
		Scan(&row).Error
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if row.Dirty {
		return fmt.Errorf("schema version %d is dirty", row.Version)
	}
	if n := len(versions); n > 0 && row.Version < int64(versions[n-1]) {
		return fmt.Errorf("%w: at %d, latest %d", ErrSchemaBehind, row.Version, versions[n-1])
	}
	return nil
}

func withMigrator(ctx context.Context, db *gorm.DB, fn func(m *migrate.Migrate) error) error {
	dialect := db.Dialector.Name()
	src, err := iofs.New(migrationFiles, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("load %s migrations: %w", dialect, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}

	switch dialect {
	case "postgres":
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			return fmt.Errorf("acquire migration connection: %w", err)
		}
		driver, err := migratepostgres.WithConnection(ctx, conn, &migratepostgres.Config{})
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("create postgres migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("create migrator: %w", err)
		}
		// Closes the borrowed connection only; the pool stays open.
		defer m.Close()
		return fn(m)
	case "sqlite":
		driver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("create sqlite migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		// m.Close would close the shared *sql.DB.
		defer src.Close()
		return fn(m)
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}

func migrationVersions(dialect string) ([]uint, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dialect, err)
	}
	seen := map[uint]struct{}{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		seen[uint(v)] = struct{}{}
	}
	out := make([]uint, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
