package storage

import (
	"context"
	"io"
	"strings"
	"time"
)

// tombstonePrefix marks a bucket directory that is being deleted. Bucket names
// can never start with a dot, so tombstones never collide with live buckets.
const tombstonePrefix = ".trash-"

// FileInfo describes one stored file.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Backend abstracts where bucket directories and item files live.
//
// Paths are logical, slash-separated and relative to the backend root: a bucket
// is a single top-level directory and an item is "<bucket>/<name>". Errors for
// collisions and missing entries wrap fs.ErrExist and fs.ErrNotExist so callers
// can test them with errors.Is.
type Backend interface {
	// CreateDir creates a top-level directory; it fails with fs.ErrExist when
	// the directory is already present, so concurrent creates have one winner.
	CreateDir(ctx context.Context, dir string) error
	DirExists(ctx context.Context, dir string) (bool, error)
	// RenameDir moves src to dst and never replaces an existing dst.
	RenameDir(ctx context.Context, src, dst string) error
	// RemoveDir removes dir and everything below it. Missing dirs are not an error.
	RemoveDir(ctx context.Context, dir string) error

	// Put streams r into path. Partial data is never visible at path, and an
	// existing file at path is never replaced (fs.ErrExist).
	Put(ctx context.Context, path string, r io.Reader) (int64, error)
	// Open returns the file at path. The caller must close the reader.
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Remove deletes path. Missing files are not an error.
	Remove(ctx context.Context, path string) error

	// ListDirs returns every top-level directory, tombstones included.
	ListDirs(ctx context.Context) ([]string, error)
	ListFiles(ctx context.Context, dir string) ([]FileInfo, error)
	// SweepStaging removes abandoned partial uploads older than cutoff.
	SweepStaging(ctx context.Context, cutoff time.Time) (int, error)

	// Check reports whether the backend is reachable.
	Check(ctx context.Context) error
}

// TombstoneName returns the directory name a bucket is parked under while it
// is being deleted.
func TombstoneName(id string) string {
	return tombstonePrefix + id
}

// IsTombstone reports whether dir was produced by TombstoneName.
func IsTombstone(dir string) bool {
	return strings.HasPrefix(dir, tombstonePrefix)
}

// Join builds the logical path of a file inside a bucket directory.
func Join(dir, name string) string {
	return dir + "/" + name
}
