package bucket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

// activeSize is the store-derived bucket size: soft-deleted items do not count.
const activeSize = `(SELECT COALESCE(SUM(i.size_bytes), 0) FROM items i WHERE i.bucket_id = b.id AND i.state = 'active')`

// Repository allows access to bucket persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a bucket repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new bucket row.
func (r *Repository) Create(ctx context.Context, name string) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO buckets (id, name)
VALUES ($1, $2)
RETURNING id, name, created_at, updated_at;`

	var bucket Bucket
	err := r.pool.QueryRow(ctx, query, uuid.New(), name).Scan(&bucket.ID, &bucket.Name, &bucket.CreatedAt, &bucket.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Bucket{}, ErrBucketNameExists
		}
		return Bucket{}, fmt.Errorf("create bucket: %w", err)
	}
	return bucket, nil
}

// List returns every bucket with its active size, oldest first.
func (r *Repository) List(ctx context.Context) ([]Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT b.id, b.name, b.created_at, b.updated_at, ` + activeSize + `
FROM buckets b
ORDER BY b.created_at, b.name;`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	buckets := []Bucket{}
	for rows.Next() {
		var bucket Bucket
		if err := rows.Scan(&bucket.ID, &bucket.Name, &bucket.CreatedAt, &bucket.UpdatedAt, &bucket.Size); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

// Get fetches a bucket by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Bucket, error) {
	return r.getBy(ctx, "b.id = $1", id)
}

// GetByName fetches a bucket by its unique name.
func (r *Repository) GetByName(ctx context.Context, name string) (Bucket, error) {
	return r.getBy(ctx, "b.name = $1", name)
}

func (r *Repository) getBy(ctx context.Context, where string, arg any) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT b.id, b.name, b.created_at, b.updated_at, ` + activeSize + `
FROM buckets b
WHERE ` + where + `;`

	var bucket Bucket
	err := r.pool.QueryRow(ctx, query, arg).Scan(&bucket.ID, &bucket.Name, &bucket.CreatedAt, &bucket.UpdatedAt, &bucket.Size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrBucketNotFound
		}
		return Bucket{}, fmt.Errorf("get bucket: %w", err)
	}
	return bucket, nil
}

// Rename updates the bucket's name.
func (r *Repository) Rename(ctx context.Context, id uuid.UUID, name string) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE buckets b
SET name = $2, updated_at = NOW()
WHERE b.id = $1
RETURNING b.id, b.name, b.created_at, b.updated_at, ` + activeSize + `;`

	var bucket Bucket
	err := r.pool.QueryRow(ctx, query, id, name).Scan(&bucket.ID, &bucket.Name, &bucket.CreatedAt, &bucket.UpdatedAt, &bucket.Size)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Bucket{}, ErrBucketNotFound
		case isUniqueViolation(err):
			return Bucket{}, ErrBucketNameExists
		}
		return Bucket{}, fmt.Errorf("rename bucket: %w", err)
	}
	return bucket, nil
}

// Delete removes a bucket row; its items go with it through ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	commandTag, err := r.pool.Exec(ctx, `DELETE FROM buckets WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
