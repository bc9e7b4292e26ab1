package bucket

import "github.com/abduss/imgstore/internal/apperr"

var (
	// ErrBucketNotFound indicates the bucket row or its directory is missing.
	ErrBucketNotFound = apperr.NotFound("bucket not found")
	// ErrBucketNameExists is returned when the name is already taken by a row or a directory.
	ErrBucketNameExists = apperr.Conflict("bucket name already exists")
	// ErrBucketNameRequired is returned for an empty bucketName.
	ErrBucketNameRequired = apperr.Validation("bucketName is required")
	ErrBucketNameInvalid  = apperr.Validation("bucketName must be 1-63 letters, digits, '.', '_' or '-' and start with a letter or digit")
	ErrBucketNameReserved = apperr.Validation("bucketName is reserved")
)
