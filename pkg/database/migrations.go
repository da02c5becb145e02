package database

import (
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrMigrationFailed distinguishes migration failures (exit code 3) from
// connectivity failures (exit code 2).
var ErrMigrationFailed = errors.New("database migration failed")

// runMigrations applies pending forward-only migrations embedded in the
// binary. Migration files live in pkg/database/migrations and are applied
// on startup; there is no rollback path in production.
func runMigrations(db *stdsql.DB, cfg Config) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("%w: create postgres driver: %v", ErrMigrationFailed, err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: create migration source: %v", ErrMigrationFailed, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("%w: create migrate instance: %v", ErrMigrationFailed, err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("%w: apply migrations: %v", ErrMigrationFailed, err)
	}

	// Close only the source driver. Closing the migrate instance would also
	// close the shared *sql.DB passed via postgres.WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("%w: close migration source: %v", ErrMigrationFailed, err)
	}

	return nil
}
