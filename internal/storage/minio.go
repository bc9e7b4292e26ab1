package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/abduss/imgstore/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	defaultObjectStoreTimeout = 5 * time.Second
	// dirMarker is the object that makes an otherwise empty prefix a bucket.
	dirMarker = ".bucket"
)

// NewMinIOClient establishes a MinIO client using the provided configuration.
func NewMinIOClient(cfg config.MinIOConfig) (*minio.Client, error) {
	endpoint := cfg.Endpoint
	if !strings.Contains(endpoint, ":") {
		// default to MinIO API port when not supplied explicitly
		endpoint = fmt.Sprintf("%s:9000", endpoint)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return client, nil
}

// EnsureBucket ensures the target bucket exists, creating it if necessary.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultObjectStoreTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}

	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}

	return nil
}

// MinIO maps image-store buckets onto prefixes of a single MinIO bucket.
//
// S3 has no atomic mkdir or rename: CreateDir and RenameDir check then act, and
// a rename copies every object before removing the originals, so a failure
// part-way leaves both copies rather than neither.
type MinIO struct {
	client objectClient
	bucket string
}

// objectClient is the part of *minio.Client the backend uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

var (
	_ Backend      = (*MinIO)(nil)
	_ objectClient = (*minio.Client)(nil)
)

// NewMinIO wraps client, storing everything inside bucket.
func NewMinIO(client *minio.Client, bucket string) *MinIO {
	return &MinIO{client: client, bucket: bucket}
}

func (m *MinIO) CreateDir(ctx context.Context, dir string) error {
	if err := validSegment(dir); err != nil {
		return err
	}
	exists, err := m.DirExists(ctx, dir)
	if err != nil {
		return err
	}
	if exists {
		return &fs.PathError{Op: "mkdir", Path: dir, Err: fs.ErrExist}
	}
	_, err = m.client.PutObject(ctx, m.bucket, Join(dir, dirMarker), bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put dir marker: %w", err)
	}
	return nil
}

func (m *MinIO) DirExists(ctx context.Context, dir string) (bool, error) {
	if err := validSegment(dir); err != nil {
		return false, err
	}
	return m.Exists(ctx, Join(dir, dirMarker))
}

func (m *MinIO) RenameDir(ctx context.Context, src, dst string) error {
	if err := validSegment(dst); err != nil {
		return err
	}
	srcExists, err := m.DirExists(ctx, src)
	if err != nil {
		return err
	}
	if !srcExists {
		return &fs.PathError{Op: "rename", Path: src, Err: fs.ErrNotExist}
	}
	dstExists, err := m.DirExists(ctx, dst)
	if err != nil {
		return err
	}
	if dstExists {
		return &fs.PathError{Op: "rename", Path: dst, Err: fs.ErrExist}
	}

	keys, err := m.listKeys(ctx, src+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		target := dst + "/" + strings.TrimPrefix(key, src+"/")
		_, err := m.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: m.bucket, Object: target},
			minio.CopySrcOptions{Bucket: m.bucket, Object: key},
		)
		if err != nil {
			return fmt.Errorf("copy %s: %w", key, err)
		}
	}
	for _, key := range keys {
		if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

func (m *MinIO) RemoveDir(ctx context.Context, dir string) error {
	if err := validSegment(dir); err != nil {
		return err
	}
	keys, err := m.listKeys(ctx, dir+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

// Put refuses to overwrite, then streams with an unknown size so minio-go
// buffers parts instead of requiring the length up front.
func (m *MinIO) Put(ctx context.Context, p string, r io.Reader) (int64, error) {
	exists, err := m.Exists(ctx, p)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, &fs.PathError{Op: "put", Path: p, Err: fs.ErrExist}
	}
	dirExists, err := m.DirExists(ctx, path.Dir(p))
	if err != nil {
		return 0, err
	}
	if !dirExists {
		return 0, &fs.PathError{Op: "put", Path: p, Err: fs.ErrNotExist}
	}
	info, err := m.client.PutObject(ctx, m.bucket, p, r, -1, minio.PutObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("put object: %w", err)
	}
	return info.Size, nil
}

func (m *MinIO) Open(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, translateMinIOError("open", p, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, translateMinIOError("open", p, err)
	}
	return obj, stat.Size, nil
}

func (m *MinIO) Exists(ctx context.Context, p string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, p, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

func (m *MinIO) Remove(ctx context.Context, p string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, p, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (m *MinIO) ListDirs(ctx context.Context) ([]string, error) {
	var dirs []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: false}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list prefixes: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			dirs = append(dirs, strings.TrimSuffix(obj.Key, "/"))
		}
	}
	return dirs, nil
}

func (m *MinIO) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	var files []FileInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: dir + "/", Recursive: false}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, dir+"/")
		if name == "" || name == dirMarker || strings.HasSuffix(name, "/") {
			continue
		}
		files = append(files, FileInfo{Name: name, Size: obj.Size, ModTime: obj.LastModified})
	}
	return files, nil
}

// SweepStaging is a no-op: PutObject never exposes partial objects.
func (m *MinIO) SweepStaging(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *MinIO) Check(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("minio bucket %q does not exist", m.bucket)
	}
	return nil
}

func (m *MinIO) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func validSegment(dir string) error {
	if dir == "" || dir == "." || dir == ".." || strings.ContainsAny(dir, "/\\") {
		return fmt.Errorf("invalid directory name %q", dir)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func translateMinIOError(op, p string, err error) error {
	if isNoSuchKey(err) {
		return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}
