package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/scheduled-email-service/pkg/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// RunMigrations brings the schema up to date using the migration set that matches
// the driver db was opened with.
func RunMigrations(db *sqlx.DB) error {
	var (
		dir      string
		dbName   string
		instance database.Driver
		err      error
	)

	switch db.DriverName() {
	case "mysql":
		dir, dbName = "migrations/mysql", "mysql"
		instance, err = migratemysql.WithInstance(db.DB, &migratemysql.Config{})
	case "sqlite3":
		dir, dbName = "migrations/sqlite", "sqlite3"
		instance, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", db.DriverName())
	}
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dbName, instance)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	logger.Infof("Database migrations completed (version %d, dirty=%v)", version, dirty)

	return nil
}
