package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MetaRepository stores small operational key/value facts scoped under a
// ref, such as the schema's recorded embedding dimension.
type MetaRepository struct {
	BaseRepository
}

func NewMetaRepository(pool *pgxpool.Pool) *MetaRepository {
	return &MetaRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *MetaRepository) Set(ctx context.Context, ref, key, value string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO aria_meta (ref, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	_, err := r.conn(ctx).Exec(ctx, query, ref, key, value, time.Now().UTC())
	return err
}

// Get returns the stored value, or "" when the key was never set.
func (r *MetaRepository) Get(ctx context.Context, ref, key string) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT value
		FROM aria_meta
		WHERE ref = $1 AND key = $2`

	var value string
	err := r.conn(ctx).QueryRow(ctx, query, ref, key).Scan(&value)
	if err != nil {
		if checkNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (r *MetaRepository) GetAll(ctx context.Context, ref string) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT key, value
		FROM aria_meta
		WHERE ref = $1
		ORDER BY key ASC`

	rows, err := r.conn(ctx).Query(ctx, query, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}

func (r *MetaRepository) Delete(ctx context.Context, ref, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM aria_meta WHERE ref = $1 AND key = $2`, ref, key)
	return err
}
