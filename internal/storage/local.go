package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const stagingDir = ".staging"

// Local keeps bucket directories on the local filesystem under a root directory.
// Uploads are streamed into root/.staging first and hard-linked into place, so
// a reader never observes a half-written item.
type Local struct {
	root    string
	staging string
}

var _ Backend = (*Local)(nil)

// NewLocal creates a Local backend rooted at root, creating the directory if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	staging := filepath.Join(absRoot, stagingDir)
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Local{root: absRoot, staging: staging}, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string {
	return l.root
}

// abs resolves a logical path to a filesystem path and rejects anything that
// would land outside root.
func (l *Local) abs(path string) (string, error) {
	joined := filepath.Join(l.root, filepath.Clean(filepath.FromSlash(path)))
	rel, err := filepath.Rel(l.root, joined)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return joined, nil
}

func (l *Local) CreateDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := l.abs(dir)
	if err != nil {
		return err
	}
	// os.Mkdir, not MkdirAll: EEXIST is how concurrent creates learn they lost.
	return os.Mkdir(abs, 0o750)
}

func (l *Local) DirExists(ctx context.Context, dir string) (bool, error) {
	abs, err := l.abs(dir)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (l *Local) RenameDir(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	absSrc, err := l.abs(src)
	if err != nil {
		return err
	}
	absDst, err := l.abs(dst)
	if err != nil {
		return err
	}
	return renameNoReplace(absSrc, absDst)
}

func (l *Local) RemoveDir(ctx context.Context, dir string) error {
	abs, err := l.abs(dir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Put streams r into a staging file, then links it to path.
func (l *Local) Put(ctx context.Context, path string, r io.Reader) (int64, error) {
	dest, err := l.abs(path)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(l.staging, "put-*")
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	n, werr := io.Copy(tmp, r)
	cerr := tmp.Close()
	if werr != nil {
		return 0, fmt.Errorf("stream write: %w", werr)
	}
	if cerr != nil {
		return 0, fmt.Errorf("flush: %w", cerr)
	}

	// Link fails with EEXIST instead of replacing, and with ENOENT when the
	// bucket directory has gone away underneath us.
	if err := os.Link(tmpName, dest); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	abs, err := l.abs(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return f, info.Size(), nil
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	abs, err := l.abs(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) Remove(ctx context.Context, path string) error {
	abs, err := l.abs(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *Local) ListDirs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != stagingDir {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

func (l *Local) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	abs, err := l.abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return files, nil
}

func (l *Local) SweepStaging(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(l.staging)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var removed int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(l.staging, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (l *Local) Check(ctx context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %q is not a directory", l.root)
	}
	return nil
}
