package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	metaRefSchema     = "schema"
	metaKeyDimensions = "embedding_dimensions"
)

// EnsureSchema applies the idempotent schema, sizing the embedding column to
// the configured model's dimensions. The dimension the schema was first
// applied with is recorded in aria_meta; a later boot with a different
// dimension fails here instead of silently keeping the old column, because
// stored vectors are unusable under a new model anyway and need a manual
// migration.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions < 1 {
		return fmt.Errorf("invalid embedding dimensions %d", dimensions)
	}

	tm := NewTransactionManager(pool)
	meta := NewMetaRepository(pool)
	want := strconv.Itoa(dimensions)

	return tm.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := GetConn(ctx, pool).Exec(ctx, fmt.Sprintf(schemaSQL, dimensions)); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}

		recorded, err := meta.Get(ctx, metaRefSchema, metaKeyDimensions)
		if err != nil {
			return fmt.Errorf("read recorded dimensions: %w", err)
		}
		if recorded != "" && recorded != want {
			return fmt.Errorf("schema was created for %s-dimensional embeddings, configured model uses %s: migrate aria_turns.embedding first", recorded, want)
		}
		if recorded == "" {
			if err := meta.Set(ctx, metaRefSchema, metaKeyDimensions, want); err != nil {
				return fmt.Errorf("record dimensions: %w", err)
			}
		}
		return nil
	})
}
