// Package migrate applies the claims schema using golang-migrate.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrator is the subset of *migrate.Migrate used here.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
}

// migratorFactory builds a migrator over db. Tests replace it.
var migratorFactory = newMigrator

func newMigrator(db *sql.DB) (migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating postgres driver: %w", err)
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// apply runs op against a fresh migrator, treating ErrNoChange as success.
func apply(db *sql.DB, action string, op func(migrator) error) (migrator, error) {
	m, err := migratorFactory(db)
	if err != nil {
		return nil, err
	}
	if err := op(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("%s migrations: %w", action, err)
	}
	return m, nil
}

// Run applies every pending migration and logs the resulting schema version.
func Run(db *sql.DB) error {
	m, err := apply(db, "running", migrator.Up)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("no claims schema migrations to apply")
	case err != nil:
		return fmt.Errorf("getting migration version: %w", err)
	case dirty:
		slog.Warn("claims schema is dirty; fix it and force the version", "version", version)
	default:
		slog.Info("claims schema up to date", "version", version)
	}
	return nil
}

// Version reports the applied schema version and whether the last migration failed midway.
func Version(db *sql.DB) (uint, bool, error) {
	m, err := migratorFactory(db)
	if err != nil {
		return 0, false, err
	}
	return m.Version()
}

// Down rolls back every migration, dropping the claims data.
func Down(db *sql.DB) error {
	_, err := apply(db, "rolling back", migrator.Down)
	return err
}

// Steps moves the schema n migrations forward, or back when n is negative.
func Steps(db *sql.DB, n int) error {
	_, err := apply(db, "stepping", func(m migrator) error { return m.Steps(n) })
	return err
}
