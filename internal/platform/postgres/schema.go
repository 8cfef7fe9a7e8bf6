package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

// Schema is the idempotent DDL for every table the scorer uses.
//
//go:embed schema.sql
var Schema string

// EnsureSchema applies Schema. Statements are IF NOT EXISTS, so it is safe on every start.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
