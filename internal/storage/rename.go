package storage

import (
	"io/fs"
	"os"
)

// renameCheckThenMove is the portable fallback. It leaves a small window in
// which a concurrent rename to dst can be replaced.
func renameCheckThenMove(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrNotExist}
	}
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	}
	return os.Rename(src, dst)
}
