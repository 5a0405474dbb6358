// Package migrations embeds the seen-set schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS

// goose keeps its base FS and dialect in package globals.
var setupOnce sync.Once
var setupErr error

// Setup points goose at the embedded files and the sqlite dialect.
func Setup() error {
	setupOnce.Do(func() {
		goose.SetBaseFS(FS)
		goose.SetLogger(goose.NopLogger())
		if err := goose.SetDialect("sqlite3"); err != nil {
			setupErr = fmt.Errorf("set dialect: %w", err)
		}
	})
	return setupErr
}

// Run applies all pending migrations to the given database.
func Run(ctx context.Context, db *sql.DB) error {
	if err := Setup(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
