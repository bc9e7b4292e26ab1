package item

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

const repoTimeout = 5 * time.Second

const recordColumns = `i.id, i.bucket_id, b.name, i.name, i.original_filename, i.content_type, i.size_bytes, i.state, i.deleted_at, i.created_at`

var errNameTaken = errors.New("item name already taken")

// Repository provides access to item rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new item repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new active item row.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
WITH i AS (
    INSERT INTO items (id, bucket_id, name, original_filename, content_type, size_bytes, state)
    VALUES ($1, $2, $3, $4, $5, $6, 'active')
    RETURNING *
)
SELECT ` + recordColumns + `
FROM i
JOIN buckets b ON b.id = i.bucket_id;`

	stored, err := scanRecord(r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.BucketID,
		rec.Name,
		rec.OriginalFilename,
		rec.ContentType,
		rec.SizeBytes,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Record{}, errNameTaken
			case "23503":
				return Record{}, ErrBucketNotFound
			}
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrBucketNotFound
		}
		return Record{}, fmt.Errorf("insert item: %w", err)
	}
	return stored, nil
}

// ListActive returns every active item ordered by bucket and upload time.
func (r *Repository) ListActive(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `WHERE i.state = 'active' ORDER BY b.created_at, b.name, i.created_at, i.name`)
}

// ListActiveByBucket returns a bucket's active items.
func (r *Repository) ListActiveByBucket(ctx context.Context, bucketID uuid.UUID) ([]Record, error) {
	return r.list(ctx, `WHERE i.state = 'active' AND i.bucket_id = $1 ORDER BY i.created_at, i.name`, bucketID)
}

// ListDeleted returns every soft-deleted item, most recently deleted first.
func (r *Repository) ListDeleted(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `WHERE i.state = 'soft_deleted' ORDER BY i.deleted_at DESC, i.name`)
}

// ListByBucket returns a bucket's items in any state.
func (r *Repository) ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]Record, error) {
	return r.list(ctx, `WHERE i.bucket_id = $1 ORDER BY i.created_at, i.name`, bucketID)
}

func (r *Repository) list(ctx context.Context, tail string, args ...any) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + recordColumns + `
FROM items i
JOIN buckets b ON b.id = i.bucket_id
` + tail + `;`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return records, nil
}

// Get fetches an item in any state.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return r.getOne(ctx, `i.id = $1`, id)
}

// GetActiveByName fetches an active item by bucket and generated name.
func (r *Repository) GetActiveByName(ctx context.Context, bucketID uuid.UUID, name string) (Record, error) {
	return r.getOne(ctx, `i.bucket_id = $1 AND i.name = $2 AND i.state = 'active'`, bucketID, name)
}

func (r *Repository) getOne(ctx context.Context, where string, args ...any) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + recordColumns + `
FROM items i
JOIN buckets b ON b.id = i.bucket_id
WHERE ` + where + `;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrItemNotFound
		}
		return Record{}, fmt.Errorf("get item: %w", err)
	}
	return rec, nil
}

// SoftDelete marks an item of the given bucket soft-deleted. The first
// deletion time is kept when the item is already soft-deleted.
func (r *Repository) SoftDelete(ctx context.Context, bucketID, id uuid.UUID) (Record, error) {
	return r.transition(ctx, `
UPDATE items i
SET state = 'soft_deleted', deleted_at = COALESCE(i.deleted_at, NOW())
FROM buckets b
WHERE b.id = i.bucket_id AND i.id = $1 AND i.bucket_id = $2
RETURNING `+recordColumns+`;`, id, bucketID)
}

// Restore returns a soft-deleted item to active.
func (r *Repository) Restore(ctx context.Context, id uuid.UUID) (Record, error) {
	return r.transition(ctx, `
UPDATE items i
SET state = 'active', deleted_at = NULL
FROM buckets b
WHERE b.id = i.bucket_id AND i.id = $1 AND i.state = 'soft_deleted'
RETURNING `+recordColumns+`;`, id)
}

// Purge deletes a soft-deleted item row. Active rows are never matched.
func (r *Repository) Purge(ctx context.Context, id uuid.UUID) (Record, error) {
	return r.transition(ctx, `
DELETE FROM items i
USING buckets b
WHERE b.id = i.bucket_id AND i.id = $1 AND i.state = 'soft_deleted'
RETURNING `+recordColumns+`;`, id)
}

func (r *Repository) transition(ctx context.Context, query string, args ...any) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrItemNotFound
		}
		return Record{}, fmt.Errorf("update item state: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var state string
	err := row.Scan(
		&rec.ID,
		&rec.BucketID,
		&rec.BucketName,
		&rec.Name,
		&rec.OriginalFilename,
		&rec.ContentType,
		&rec.SizeBytes,
		&state,
		&rec.DeletedAt,
		&rec.CreatedAt,
	)
	rec.State = State(state)
	return rec, err
}
