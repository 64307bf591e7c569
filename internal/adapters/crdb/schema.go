package crdb

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables the store needs. It is safe to run repeatedly.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}
