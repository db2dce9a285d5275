package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema for the store's dialect. The
// migrator shares the store's connection pool, which the store still owns.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.dialect.Name())
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	var drv database.Driver
	switch s.dialect.Name() {
	case "postgres":
		drv, err = postgres.WithInstance(s.db, &postgres.Config{})
	case "sqlite":
		drv, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	default:
		err = fmt.Errorf("no migration driver for %q", s.dialect.Name())
	}
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.dialect.Name(), drv)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
