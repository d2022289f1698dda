package repository

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every pending migration found at sourceURL (e.g. file://migrations).
func Migrate(db *sql.DB, sourceURL, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{
		DatabaseName: dbName,
		SchemaName:   "public",
	})
	if err != nil {
		slog.Error("failed to create migration driver", "error", err)
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, dbName, driver)
	if err != nil {
		slog.Error("failed to load migrations", "source", sourceURL, "error", err)
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if stderrors.Is(err, migrate.ErrNoChange) {
			slog.Info("schema is up to date")
			return nil
		}
		if stderrors.Is(err, os.ErrNotExist) {
			slog.Warn("no migration files found, skipping", "source", sourceURL)
			return nil
		}
		var dirty migrate.ErrDirty
		if stderrors.As(err, &dirty) {
			slog.Error("migration left database dirty", "version", dirty.Version)
			return fmt.Errorf("migration failed: dirty database version %d", dirty.Version)
		}
		slog.Error("migration failed", "error", err)
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("migrations applied", "source", sourceURL)
	return nil
}
