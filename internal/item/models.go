package item

import (
	"net/url"
	"time"

	"github.com/abduss/imgstore/internal/bucket"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/google/uuid"
)

// State is the lifecycle state stored on an item row. A purged item has no row.
type State string

const (
	StateActive      State = "active"
	StateSoftDeleted State = "soft_deleted"
)

// CanSoftDelete reports whether a soft delete is allowed. Repeating it on a
// soft-deleted item is allowed and keeps the original deletion time.
func (s State) CanSoftDelete() bool {
	return s == StateActive || s == StateSoftDeleted
}

// CanRestore reports whether the item can return to active.
func (s State) CanRestore() bool {
	return s == StateSoftDeleted
}

// CanPurge reports whether the item can be removed for good. Active items
// must be soft deleted first.
func (s State) CanPurge() bool {
	return s == StateSoftDeleted
}

// Record is an item row joined with the current name of its bucket.
type Record struct {
	ID               uuid.UUID
	BucketID         uuid.UUID
	BucketName       string
	Name             string
	OriginalFilename string
	ContentType      string
	SizeBytes        int64
	State            State
	DeletedAt        *time.Time
	CreatedAt        time.Time
}

// Path is the item's logical storage path, derived from the bucket's current name.
func (r Record) Path() string {
	return storage.Join(r.BucketName, r.Name)
}

// Item is the client facing view of a record.
type Item struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Path        string     `json:"path"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type"`
	BucketID    uuid.UUID  `json:"bucket_id"`
	Bucket      string     `json:"bucket"`
	State       State      `json:"state"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// BucketItems is a bucket together with its active items.
type BucketItems struct {
	bucket.Bucket
	Items []Item `json:"items"`
}

// publicURL builds the unauthenticated download link for an item.
func publicURL(baseURL, bucketName, name string) string {
	return baseURL + "images/" + url.PathEscape(bucketName) + "/" + url.PathEscape(name)
}

func (r Record) toItem(baseURL string) Item {
	return Item{
		ID:          r.ID,
		Name:        r.Name,
		URL:         publicURL(baseURL, r.BucketName, r.Name),
		Path:        r.Path(),
		Size:        r.SizeBytes,
		ContentType: r.ContentType,
		BucketID:    r.BucketID,
		Bucket:      r.BucketName,
		State:       r.State,
		DeletedAt:   r.DeletedAt,
		CreatedAt:   r.CreatedAt,
	}
}
