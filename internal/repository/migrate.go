package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Migrate applies every pending migration for the database dialect.
func Migrate(ctx context.Context, db *DB) error {
	dir, dialect := "migrations/postgres", "postgres"
	if db.Driver == DriverSQLite {
		dir, dialect = "migrations/sqlite", "sqlite3"
	}
	sub, err := fs.Sub(migrations, dir)
	if err != nil {
		return err
	}
	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	goose.SetTableName("schema_migrations")
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}
