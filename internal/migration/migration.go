package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// VersionTable keeps the schema version apart from other services sharing
// the database.
const VersionTable = "cashback_schema_migrations"

// Result reports the schema version before and after Up.
type Result struct {
	From    uint
	To      uint
	Changed bool
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: VersionTable})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}

// Up applies every pending affiliate schema migration. A dirty version is
// reported instead of being forced; it needs an operator.
func Up(db *sql.DB, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	migrator, err := newMigrator(db)
	if err != nil {
		return Result{}, err
	}
	// migrator.Close would close the shared *sql.DB.

	from, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Result{}, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		log.Error("migration.dirty", zap.Uint("version", from))
		return Result{From: from}, fmt.Errorf("schema version %d is dirty", from)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("migration.up_to_date", zap.Uint("version", from))
			return Result{From: from, To: from}, nil
		}
		return Result{From: from}, fmt.Errorf("apply migrations: %w", err)
	}

	to, _, err := migrator.Version()
	if err != nil {
		return Result{From: from}, fmt.Errorf("read schema version: %w", err)
	}
	log.Info("migration.applied",
		zap.Uint("from_version", from),
		zap.Uint("to_version", to),
		zap.String("table", VersionTable),
	)
	return Result{From: from, To: to, Changed: true}, nil
}
