// Package migrate runs the ordered, idempotent SQL migrations under
// migrations/ at process startup, before the pool is handed to any store,
// using golang-migrate/migrate/v4 as the concrete runner.
package migrate

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Up applies every pending migration in migrations/ against dsn, in
// filename order. It is idempotent: running it again against an
// already-migrated database is a no-op (migrate.ErrNoChange).
func Up(dsn string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, withPgxScheme(dsn))
	if err != nil {
		return fmt.Errorf("constructing migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// withPgxScheme passes dsn through unchanged: golang-migrate's postgres
// driver and pgxpool both accept the same "postgres://" URL shape and query
// parameters, so no rewriting is needed.
func withPgxScheme(dsn string) string {
	return dsn
}
