package item

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/abduss/imgstore/internal/bucket"
	"github.com/abduss/imgstore/internal/config"
	"github.com/abduss/imgstore/internal/logger"
	"github.com/abduss/imgstore/internal/metrics"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxNameAttempts     = 5
	maxOriginalNameSize = 180
)

type recordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	ListActive(ctx context.Context) ([]Record, error)
	ListActiveByBucket(ctx context.Context, bucketID uuid.UUID) ([]Record, error)
	ListDeleted(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	GetActiveByName(ctx context.Context, bucketID uuid.UUID, name string) (Record, error)
	SoftDelete(ctx context.Context, bucketID, id uuid.UUID) (Record, error)
	Restore(ctx context.Context, id uuid.UUID) (Record, error)
	Purge(ctx context.Context, id uuid.UUID) (Record, error)
}

type bucketStore interface {
	List(ctx context.Context) ([]bucket.Bucket, error)
	Get(ctx context.Context, id uuid.UUID) (bucket.Bucket, error)
	GetByName(ctx context.Context, name string) (bucket.Bucket, error)
}

// UploadInput describes one incoming file. Size is the declared length, or -1
// when the client did not declare one.
type UploadInput struct {
	BucketName  string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Service manages the item lifecycle across item rows and bucket directories.
type Service struct {
	repo    recordStore
	buckets bucketStore
	files   storage.Backend
	upload  config.UploadConfig
	log     *zap.Logger
	now     func() time.Time
}

// NewService constructs an item service.
func NewService(repo recordStore, buckets bucketStore, files storage.Backend, upload config.UploadConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		buckets: buckets,
		files:   files,
		upload:  upload,
		log:     log,
		now:     time.Now,
	}
}

// MaxBytes returns the configured upload ceiling.
func (s *Service) MaxBytes() int64 {
	return s.upload.MaxBytes
}

// Upload checks the bucket and the declared metadata before reading the body,
// then streams the body to storage with an early abort once the ceiling is
// crossed. A failed row insert removes the stored file.
func (s *Service) Upload(ctx context.Context, in UploadInput) (Item, error) {
	bucketName := bucket.NormalizeName(in.BucketName)
	if bucketName == "" {
		return Item{}, ErrBucketRequired
	}
	if in.Body == nil {
		return Item{}, ErrFileRequired
	}

	b, err := s.requireBucket(ctx, bucketName)
	if err != nil {
		return Item{}, err
	}

	contentType, ok := s.acceptedType(in.ContentType)
	if !ok {
		return Item{}, ErrUnsupportedType
	}
	if in.Size > s.upload.MaxBytes {
		return Item{}, ErrItemTooLarge
	}

	original := sanitizeFilename(in.Filename)
	name, err := s.freeName(ctx, b.Name, original)
	if err != nil {
		return Item{}, err
	}
	path := storage.Join(b.Name, name)

	written, err := s.files.Put(ctx, path, &limitedReader{r: in.Body, remaining: s.upload.MaxBytes})
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, ErrItemTooLarge), errors.As(err, &maxErr):
			return Item{}, ErrItemTooLarge
		case errors.Is(err, fs.ErrExist):
			return Item{}, ErrNameCollision
		case errors.Is(err, fs.ErrNotExist):
			// The bucket directory went away while the body was streaming.
			return Item{}, ErrBucketNotFound
		}
		return Item{}, fmt.Errorf("store item: %w", err)
	}

	rec, err := s.repo.Insert(ctx, Record{
		ID:               uuid.New(),
		BucketID:         b.ID,
		Name:             name,
		OriginalFilename: original,
		ContentType:      contentType,
		SizeBytes:        written,
	})
	if err != nil {
		if rmErr := s.files.Remove(context.WithoutCancel(ctx), path); rmErr != nil {
			s.logFor(ctx).Error("remove file after failed insert", zap.String("path", path), zap.Error(rmErr))
		}
		if errors.Is(err, errNameTaken) {
			return Item{}, ErrNameCollision
		}
		return Item{}, err
	}

	metrics.ObserveUpload(written)
	metrics.ItemTransition(metrics.TransitionUpload)
	s.logFor(ctx).Info("item uploaded",
		zap.String("item_id", rec.ID.String()),
		zap.String("bucket", rec.BucketName),
		zap.String("name", rec.Name),
		zap.Int64("size", rec.SizeBytes))
	return rec.toItem(s.upload.PublicBaseURL), nil
}

// ListAll returns every bucket with its active items.
func (s *Service) ListAll(ctx context.Context) ([]BucketItems, error) {
	buckets, err := s.buckets.List(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	byBucket := make(map[uuid.UUID][]Item, len(buckets))
	for _, rec := range records {
		byBucket[rec.BucketID] = append(byBucket[rec.BucketID], rec.toItem(s.upload.PublicBaseURL))
	}

	out := make([]BucketItems, 0, len(buckets))
	for _, b := range buckets {
		items := byBucket[b.ID]
		if items == nil {
			items = []Item{}
		}
		out = append(out, BucketItems{Bucket: b, Items: items})
	}
	return out, nil
}

// ListByBucket returns one bucket with its active items.
func (s *Service) ListByBucket(ctx context.Context, bucketName string) (BucketItems, error) {
	b, err := s.buckets.GetByName(ctx, bucketName)
	if err != nil {
		return BucketItems{}, translateBucketError(err)
	}
	records, err := s.repo.ListActiveByBucket(ctx, b.ID)
	if err != nil {
		return BucketItems{}, err
	}
	return BucketItems{Bucket: b, Items: s.toItems(records)}, nil
}

// ListDeleted returns every soft-deleted item.
func (s *Service) ListDeleted(ctx context.Context) ([]Item, error) {
	records, err := s.repo.ListDeleted(ctx)
	if err != nil {
		return nil, err
	}
	return s.toItems(records), nil
}

// Open returns an active item and its bytes. A row whose file is missing is
// reported as not found. The caller must close the reader.
func (s *Service) Open(ctx context.Context, bucketName, filename string) (Item, io.ReadCloser, int64, error) {
	b, err := s.buckets.GetByName(ctx, bucketName)
	if err != nil {
		if errors.Is(err, bucket.ErrBucketNotFound) {
			return Item{}, nil, 0, ErrItemNotFound
		}
		return Item{}, nil, 0, err
	}
	rec, err := s.repo.GetActiveByName(ctx, b.ID, filename)
	if err != nil {
		return Item{}, nil, 0, err
	}

	rc, size, err := s.files.Open(ctx, rec.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logFor(ctx).Warn("item row without file", zap.String("item_id", rec.ID.String()), zap.String("path", rec.Path()))
			return Item{}, nil, 0, ErrItemNotFound
		}
		return Item{}, nil, 0, fmt.Errorf("open item: %w", err)
	}
	return rec.toItem(s.upload.PublicBaseURL), rc, size, nil
}

// SoftDelete hides an item of the given bucket while keeping its file.
func (s *Service) SoftDelete(ctx context.Context, bucketID, itemID uuid.UUID) (Item, error) {
	if _, err := s.buckets.Get(ctx, bucketID); err != nil {
		return Item{}, translateBucketError(err)
	}
	rec, err := s.repo.Get(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	if rec.BucketID != bucketID || !rec.State.CanSoftDelete() {
		return Item{}, ErrItemNotFound
	}
	if err := s.requireFile(ctx, rec); err != nil {
		return Item{}, err
	}

	updated, err := s.repo.SoftDelete(ctx, bucketID, itemID)
	if err != nil {
		return Item{}, err
	}
	if rec.State == StateActive {
		metrics.ItemTransition(metrics.TransitionSoftDelete)
		s.logFor(ctx).Info("item soft deleted", zap.String("item_id", itemID.String()), zap.String("bucket", updated.BucketName))
	}
	return updated.toItem(s.upload.PublicBaseURL), nil
}

// Restore returns a soft-deleted item to active.
func (s *Service) Restore(ctx context.Context, itemID uuid.UUID) (Item, error) {
	rec, err := s.repo.Get(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	if !rec.State.CanRestore() {
		return Item{}, ErrItemNotFound
	}
	if err := s.requireFile(ctx, rec); err != nil {
		return Item{}, err
	}

	restored, err := s.repo.Restore(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	metrics.ItemTransition(metrics.TransitionRestore)
	s.logFor(ctx).Info("item restored", zap.String("item_id", itemID.String()), zap.String("bucket", restored.BucketName))
	return restored.toItem(s.upload.PublicBaseURL), nil
}

// Purge removes a soft-deleted item's row and then its file. The row delete is
// conditional on the soft-deleted state, so an active item is never purged.
// A file that cannot be removed is left for the reconciler.
func (s *Service) Purge(ctx context.Context, itemID uuid.UUID) error {
	rec, err := s.repo.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if !rec.State.CanPurge() {
		return ErrItemNotFound
	}

	purged, err := s.repo.Purge(ctx, itemID)
	if err != nil {
		return err
	}
	if err := s.files.Remove(context.WithoutCancel(ctx), purged.Path()); err != nil {
		s.logFor(ctx).Warn("orphan file left after purge", zap.String("path", purged.Path()), zap.Error(err))
	}

	metrics.ItemTransition(metrics.TransitionPurge)
	s.logFor(ctx).Info("item purged", zap.String("item_id", itemID.String()), zap.String("bucket", purged.BucketName))
	return nil
}

func (s *Service) requireBucket(ctx context.Context, name string) (bucket.Bucket, error) {
	b, err := s.buckets.GetByName(ctx, name)
	if err != nil {
		return bucket.Bucket{}, translateBucketError(err)
	}
	ok, err := s.files.DirExists(ctx, b.Name)
	if err != nil {
		return bucket.Bucket{}, fmt.Errorf("check bucket directory: %w", err)
	}
	if !ok {
		return bucket.Bucket{}, ErrBucketNotFound
	}
	return b, nil
}

func (s *Service) requireFile(ctx context.Context, rec Record) error {
	ok, err := s.files.Exists(ctx, rec.Path())
	if err != nil {
		return fmt.Errorf("check item file: %w", err)
	}
	if !ok {
		return ErrItemNotFound
	}
	return nil
}

// freeName picks a timestamp-prefixed name that is not yet on disk, moving
// the prefix forward on collision.
func (s *Service) freeName(ctx context.Context, bucketName, original string) (string, error) {
	ts := s.now().UnixMilli()
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := fmt.Sprintf("%d-%s", ts+int64(attempt), original)
		taken, err := s.files.Exists(ctx, storage.Join(bucketName, name))
		if err != nil {
			return "", fmt.Errorf("check item name: %w", err)
		}
		if !taken {
			return name, nil
		}
	}
	return "", ErrNameCollision
}

func (s *Service) acceptedType(declared string) (string, bool) {
	if declared == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType, s.upload.Accepts(mediaType)
}

func (s *Service) toItems(records []Record) []Item {
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.toItem(s.upload.PublicBaseURL))
	}
	return items
}

// sanitizeFilename keeps the client's base name as is, minus control
// characters and leading dots. Long names keep their tail so the extension
// survives.
func sanitizeFilename(name string) string {
	name = strings.ToValidUTF8(name, "")
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	for len(name) > maxOriginalNameSize {
		_, size := utf8.DecodeRuneInString(name)
		name = name[size:]
	}
	if name == "" {
		return "upload"
	}
	return name
}

func translateBucketError(err error) error {
	if errors.Is(err, bucket.ErrBucketNotFound) {
		return ErrBucketNotFound
	}
	return err
}

// limitedReader fails with ErrItemTooLarge as soon as more than remaining
// bytes have been read, so oversized bodies are rejected mid-stream.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrItemTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrItemTooLarge
	}
	return n, err
}

// logFor prefers the request logger so service lines carry the correlation id.
func (s *Service) logFor(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, s.log).Named("item")
}
