// Package migrate applies embedded SQL migrations before first store use.
package migrate

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/glucolog/glucolog/migrations"
)

// Up runs all pending migrations from the embedded filesystem against an
// already opened database handle. Safe to re-run: goose tracks the applied
// version and every statement is written to be idempotent.
func Up(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
