package item

import "github.com/abduss/imgstore/internal/apperr"

var (
	// ErrItemNotFound signals a missing row, a row in the wrong state, or a missing file.
	ErrItemNotFound = apperr.NotFound("item not found")
	// ErrBucketNotFound is returned when the target bucket row or directory is missing.
	ErrBucketNotFound = apperr.NotFound("bucket not found")
	// ErrBucketRequired is returned when an upload names no bucket.
	ErrBucketRequired = apperr.Validation("bucket is required")
	// ErrFileRequired is returned when an upload carries no file part.
	ErrFileRequired = apperr.Validation("file is required")
	// ErrItemTooLarge signals that the upload exceeds the configured ceiling.
	ErrItemTooLarge = apperr.PayloadTooLarge("file too large")
	// ErrUnsupportedType signals a declared MIME type outside the accepted set.
	ErrUnsupportedType = apperr.UnsupportedMediaType("unsupported file type")
	// ErrNameCollision is returned when every generated name was already taken.
	ErrNameCollision = apperr.Conflict("could not allocate a unique item name, retry the upload")
)
