// Package postgres holds the PostgreSQL connections and the schema migration
// commands.  Migrations run on startup when database.auto_migrate is set and
// can be driven by hand through `keymed migrate`.
package postgres

import (
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// newMigrate is a variable so tests can avoid a live database.
var newMigrate = func(sourceURL, dbURL string) (migrator, error) {
	return migrate.New(sourceURL, dbURL)
}

type migrator interface {
	Up() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(v int) error
	Close() (error, error)
}

func withMigrator(dbURL, migrationsPath string, fn func(m migrator) error) error {
	m, err := newMigrate(migrationsPath, dbURL)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migrate instance")
	}
	defer m.Close()
	return fn(m)
}

// MigrateUp applies every pending migration.  No pending migrations is not
// an error.
func MigrateUp(dbURL, migrationsPath string) error {
	return withMigrator(dbURL, migrationsPath, func(m migrator) error {
		if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to run migrations")
		}
		return nil
	})
}

// RollbackMigration reverts steps migrations.
func RollbackMigration(dbURL, migrationsPath string, steps int) error {
	if steps <= 0 {
		return errors.New(errors.ErrCodeValidation, "steps must be greater than 0")
	}
	return withMigrator(dbURL, migrationsPath, func(m migrator) error {
		if err := m.Steps(-steps); err != nil {
			if stderrors.Is(err, migrate.ErrNoChange) {
				return errors.New(errors.ErrCodeValidation, "no migrations to roll back")
			}
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to roll back migrations")
		}
		return nil
	})
}

// MigrationStatus returns the applied version and whether a failed migration
// left the schema dirty.  A fresh database reports version 0.
func MigrationStatus(dbURL, migrationsPath string) (version uint, dirty bool, err error) {
	err = withMigrator(dbURL, migrationsPath, func(m migrator) error {
		v, d, verr := m.Version()
		if verr != nil {
			if stderrors.Is(verr, migrate.ErrNilVersion) {
				return nil
			}
			return errors.Wrap(verr, errors.ErrCodeDatabaseError, "failed to get migration version")
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

// ForceMigrationVersion marks version as applied without running anything.
// It is the way out of a dirty state after fixing the schema by hand.
func ForceMigrationVersion(dbURL, migrationsPath string, version int) error {
	return withMigrator(dbURL, migrationsPath, func(m migrator) error {
		if err := m.Force(version); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to force migration version")
		}
		return nil
	})
}

//Personal.AI order the ending
