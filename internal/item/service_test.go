package item

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/abduss/imgstore/internal/bucket"
	"github.com/abduss/imgstore/internal/config"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBaseURL = "http://localhost:3001/"

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		PublicBaseURL:     testBaseURL,
		MaxBytes:          4 << 10,
		AcceptedMIMETypes: []string{"image/webp"},
	}
}

type fixture struct {
	service *Service
	db      *fakeDB
	files   *storage.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	db := newFakeDB()
	service := NewService(&fakeRecords{db: db}, &fakeBuckets{db: db}, files, testUploadConfig(), zap.NewNop())
	service.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return &fixture{service: service, db: db, files: files}
}

func (f *fixture) addBucket(t *testing.T, name string) bucket.Bucket {
	t.Helper()
	require.NoError(t, f.files.CreateDir(context.Background(), name))
	return f.db.addBucket(name)
}

func (f *fixture) upload(t *testing.T, bucketName, filename string, size int) Item {
	t.Helper()
	item, err := f.service.Upload(context.Background(), webpInput(bucketName, filename, size))
	require.NoError(t, err)
	return item
}

func webpInput(bucketName, filename string, size int) UploadInput {
	return UploadInput{
		BucketName:  bucketName,
		Filename:    filename,
		ContentType: "image/webp",
		Size:        -1,
		Body:        bytes.NewReader(bytes.Repeat([]byte{0x42}, size)),
	}
}

func (f *fixture) bucketFiles(t *testing.T, name string) []storage.FileInfo {
	t.Helper()
	files, err := f.files.ListFiles(context.Background(), name)
	require.NoError(t, err)
	return files
}

func TestUploadStoresFileAndRow(t *testing.T) {
	f := newFixture(t)
	b := f.addBucket(t, "photos")

	item := f.upload(t, "photos", "cat.webp", 2048)

	assert.Equal(t, "1700000000000-cat.webp", item.Name)
	assert.True(t, strings.HasSuffix(item.Name, "cat.webp"))
	assert.Equal(t, testBaseURL+"images/photos/1700000000000-cat.webp", item.URL)
	assert.Equal(t, "photos/1700000000000-cat.webp", item.Path)
	assert.Equal(t, int64(2048), item.Size)
	assert.Equal(t, b.ID, item.BucketID)
	assert.Equal(t, StateActive, item.State)

	files := f.bucketFiles(t, "photos")
	require.Len(t, files, 1)
	assert.Equal(t, int64(2048), files[0].Size)
	assert.Equal(t, 1, f.db.itemCount())
}

func TestUploadRetriesOnNameCollision(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")

	first := f.upload(t, "photos", "cat.webp", 10)
	second := f.upload(t, "photos", "cat.webp", 10)

	assert.NotEqual(t, first.Name, second.Name)
	assert.Equal(t, "1700000000001-cat.webp", second.Name)
}

func TestUploadRejectsOversizedDeclaredSize(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")

	in := webpInput("photos", "big.webp", 10)
	in.Size = 5 << 10
	_, err := f.service.Upload(context.Background(), in)

	assert.ErrorIs(t, err, ErrItemTooLarge)
	assert.Empty(t, f.bucketFiles(t, "photos"))
	assert.Zero(t, f.db.itemCount())
}

func TestUploadAbortsOversizedStream(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")

	_, err := f.service.Upload(context.Background(), webpInput("photos", "big.webp", 4<<10+1))

	assert.ErrorIs(t, err, ErrItemTooLarge)
	assert.Empty(t, f.bucketFiles(t, "photos"))
	assert.Zero(t, f.db.itemCount())
	staged, err := os.ReadDir(filepath.Join(f.files.Root(), ".staging"))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestUploadAcceptsExactCeiling(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")

	item := f.upload(t, "photos", "edge.webp", 4<<10)
	assert.Equal(t, int64(4<<10), item.Size)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")

	for _, ct := range []string{"image/png", "", "not a type"} {
		in := webpInput("photos", "a.png", 10)
		in.ContentType = ct
		_, err := f.service.Upload(context.Background(), in)
		assert.ErrorIs(t, err, ErrUnsupportedType, "content type %q", ct)
	}

	in := webpInput("photos", "a.webp", 10)
	in.ContentType = "IMAGE/WEBP; charset=binary"
	_, err := f.service.Upload(context.Background(), in)
	assert.NoError(t, err)
}

func TestUploadBucketChecks(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Upload(context.Background(), webpInput("", "a.webp", 10))
	assert.ErrorIs(t, err, ErrBucketRequired)

	_, err = f.service.Upload(context.Background(), webpInput("ghost", "a.webp", 10))
	assert.ErrorIs(t, err, ErrBucketNotFound)

	// Row without directory.
	f.db.addBucket("rowonly")
	_, err = f.service.Upload(context.Background(), webpInput("rowonly", "a.webp", 10))
	assert.ErrorIs(t, err, ErrBucketNotFound)
	assert.Zero(t, f.db.itemCount())
}

func TestUploadRemovesFileWhenInsertFails(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")
	f.db.failInsert = errors.New("connection reset")

	_, err := f.service.Upload(context.Background(), webpInput("photos", "a.webp", 10))

	require.Error(t, err)
	assert.Empty(t, f.bucketFiles(t, "photos"))
}

func TestSoftDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	b := f.addBucket(t, "photos")
	item := f.upload(t, "photos", "cat.webp", 100)
	ctx := context.Background()

	deleted, err := f.service.SoftDelete(ctx, b.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSoftDeleted, deleted.State)
	require.NotNil(t, deleted.DeletedAt)

	listed, err := f.service.ListByBucket(ctx, "photos")
	require.NoError(t, err)
	assert.Empty(t, listed.Items)
	assert.Len(t, f.bucketFiles(t, "photos"), 1, "soft delete keeps the file")

	trash, err := f.service.ListDeleted(ctx)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, item.ID, trash[0].ID)

	again, err := f.service.SoftDelete(ctx, b.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, *deleted.DeletedAt, *again.DeletedAt, "repeat soft delete keeps the first deletion time")

	restored, err := f.service.Restore(ctx, item.ID)
	require.NoError(t, err)

	listed, err = f.service.ListByBucket(ctx, "photos")
	require.NoError(t, err)
	require.Len(t, listed.Items, 1)
	got := listed.Items[0]
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.Name, got.Name)
	assert.Equal(t, item.URL, got.URL)
	assert.Equal(t, item.Size, got.Size)
	assert.Equal(t, StateActive, restored.State)
	assert.Nil(t, restored.DeletedAt)
}

func TestSoftDeleteWrongBucketOrMissingFile(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")
	other := f.addBucket(t, "other")
	item := f.upload(t, "photos", "cat.webp", 10)
	ctx := context.Background()

	_, err := f.service.SoftDelete(ctx, other.ID, item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = f.service.SoftDelete(ctx, uuid.New(), item.ID)
	assert.ErrorIs(t, err, ErrBucketNotFound)

	require.NoError(t, f.files.Remove(ctx, item.Path))
	_, err = f.service.SoftDelete(ctx, item.BucketID, item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRestoreRequiresSoftDeleted(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")
	item := f.upload(t, "photos", "cat.webp", 10)

	_, err := f.service.Restore(context.Background(), item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = f.service.Restore(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestPurgeOnlyFromSoftDeleted(t *testing.T) {
	f := newFixture(t)
	b := f.addBucket(t, "photos")
	item := f.upload(t, "photos", "cat.webp", 10)
	ctx := context.Background()

	err := f.service.Purge(ctx, item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, 1, f.db.itemCount())
	assert.Len(t, f.bucketFiles(t, "photos"), 1)

	_, err = f.service.SoftDelete(ctx, b.ID, item.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.Purge(ctx, item.ID))

	assert.Zero(t, f.db.itemCount())
	assert.Empty(t, f.bucketFiles(t, "photos"))

	assert.ErrorIs(t, f.service.Purge(ctx, item.ID), ErrItemNotFound)
}

func TestOpenStreamsActiveItem(t *testing.T) {
	f := newFixture(t)
	b := f.addBucket(t, "photos")
	item := f.upload(t, "photos", "cat.webp", 64)
	ctx := context.Background()

	got, rc, size, err := f.service.Open(ctx, "photos", item.Name)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, int64(64), size)
	assert.Len(t, body, 64)

	_, _, _, err = f.service.Open(ctx, "ghost", item.Name)
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, err = f.service.SoftDelete(ctx, b.ID, item.ID)
	require.NoError(t, err)
	_, _, _, err = f.service.Open(ctx, "photos", item.Name)
	assert.ErrorIs(t, err, ErrItemNotFound, "soft-deleted items are not served")
}

func TestOpenMissingFileIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")
	item := f.upload(t, "photos", "cat.webp", 10)
	require.NoError(t, f.files.Remove(context.Background(), item.Path))

	_, _, _, err := f.service.Open(context.Background(), "photos", item.Name)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestBucketRenameKeepsItems(t *testing.T) {
	f := newFixture(t)
	b := f.addBucket(t, "old")
	item := f.upload(t, "old", "cat.webp", 10)
	ctx := context.Background()

	require.NoError(t, f.files.RenameDir(ctx, "old", "new"))
	f.db.renameBucket(b.ID, "new")

	_, err := f.service.ListByBucket(ctx, "old")
	assert.ErrorIs(t, err, ErrBucketNotFound)

	listed, err := f.service.ListByBucket(ctx, "new")
	require.NoError(t, err)
	require.Len(t, listed.Items, 1)
	got := listed.Items[0]
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.Name, got.Name)
	assert.Equal(t, item.Size, got.Size)
	assert.Equal(t, testBaseURL+"images/new/"+item.Name, got.URL)
}

func TestListAllGroupsActiveItems(t *testing.T) {
	f := newFixture(t)
	a := f.addBucket(t, "a")
	f.addBucket(t, "b")
	first := f.upload(t, "a", "one.webp", 10)
	f.upload(t, "a", "two.webp", 20)
	_, err := f.service.SoftDelete(context.Background(), a.ID, first.ID)
	require.NoError(t, err)

	all, err := f.service.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	require.Len(t, all[0].Items, 1)
	assert.Equal(t, int64(20), all[0].Items[0].Size)
	assert.Equal(t, "b", all[1].Name)
	assert.NotNil(t, all[1].Items)
	assert.Empty(t, all[1].Items)
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"cat.webp":           "cat.webp",
		"../../etc/passwd":   "passwd",
		`C:\photos\dog.webp`: "dog.webp",
		"my photo.webp":      "my photo.webp",
		"фото.webp":          "фото.webp",
		"café (1).webp":      "café (1).webp",
		"bad\x00\nname.webp": "badname.webp",
		".hidden.webp":       "hidden.webp",
		"  spaced.webp  ":    "spaced.webp",
		"":                   "upload",
		"..":                 "upload",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeFilename(in), "sanitizeFilename(%q)", in)
	}
}

func TestSanitizeFilenameTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ж", maxOriginalNameSize) + ".webp"

	got := sanitizeFilename(long)

	assert.LessOrEqual(t, len(got), maxOriginalNameSize)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "ж.webp"))
}

func TestUploadKeepsOriginalFilename(t *testing.T) {
	f := newFixture(t)
	f.addBucket(t, "photos")

	for _, original := range []string{"my cat.webp", "фото.webp", "café (1).webp"} {
		item := f.upload(t, "photos", original, 10)

		assert.True(t, strings.HasSuffix(item.Name, "-"+original), "name %q lost %q", item.Name, original)
		ok, err := f.files.Exists(context.Background(), storage.Join("photos", item.Name))
		require.NoError(t, err)
		assert.True(t, ok, "file for %q not stored", original)

		_, rc, _, err := f.service.Open(context.Background(), "photos", item.Name)
		require.NoError(t, err)
		rc.Close()
	}
}

func TestStateGuards(t *testing.T) {
	assert.True(t, StateActive.CanSoftDelete())
	assert.True(t, StateSoftDeleted.CanSoftDelete())
	assert.False(t, StateActive.CanRestore())
	assert.True(t, StateSoftDeleted.CanRestore())
	assert.False(t, StateActive.CanPurge())
	assert.True(t, StateSoftDeleted.CanPurge())
}

// --- fakes ----

type fakeDB struct {
	mu         sync.Mutex
	buckets    map[uuid.UUID]bucket.Bucket
	items      map[uuid.UUID]Record
	failInsert error
	clock      time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		buckets: make(map[uuid.UUID]bucket.Bucket),
		items:   make(map[uuid.UUID]Record),
		clock:   time.Unix(1700000000, 0),
	}
}

// tick returns strictly increasing timestamps so ordering is deterministic.
func (db *fakeDB) tick() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

func (db *fakeDB) addBucket(name string) bucket.Bucket {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := db.tick()
	b := bucket.Bucket{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	db.buckets[b.ID] = b
	return b
}

func (db *fakeDB) renameBucket(id uuid.UUID, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b := db.buckets[id]
	b.Name = name
	db.buckets[id] = b
}

func (db *fakeDB) itemCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.items)
}

// joined fills in the bucket's current name. Caller holds mu.
func (db *fakeDB) joined(rec Record) Record {
	rec.BucketName = db.buckets[rec.BucketID].Name
	return rec
}

func (db *fakeDB) sizeOf(bucketID uuid.UUID) int64 {
	var total int64
	for _, rec := range db.items {
		if rec.BucketID == bucketID && rec.State == StateActive {
			total += rec.SizeBytes
		}
	}
	return total
}

func (db *fakeDB) withSize(b bucket.Bucket) bucket.Bucket {
	b.Size = db.sizeOf(b.ID)
	return b
}

type fakeBuckets struct{ db *fakeDB }

func (f *fakeBuckets) List(ctx context.Context) ([]bucket.Bucket, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := []bucket.Bucket{}
	for _, b := range f.db.buckets {
		out = append(out, f.db.withSize(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeBuckets) Get(ctx context.Context, id uuid.UUID) (bucket.Bucket, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b, ok := f.db.buckets[id]
	if !ok {
		return bucket.Bucket{}, bucket.ErrBucketNotFound
	}
	return f.db.withSize(b), nil
}

func (f *fakeBuckets) GetByName(ctx context.Context, name string) (bucket.Bucket, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, b := range f.db.buckets {
		if b.Name == name {
			return f.db.withSize(b), nil
		}
	}
	return bucket.Bucket{}, bucket.ErrBucketNotFound
}

type fakeRecords struct{ db *fakeDB }

func (f *fakeRecords) Insert(ctx context.Context, rec Record) (Record, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.failInsert != nil {
		return Record{}, f.db.failInsert
	}
	if _, ok := f.db.buckets[rec.BucketID]; !ok {
		return Record{}, ErrBucketNotFound
	}
	for _, existing := range f.db.items {
		if existing.BucketID == rec.BucketID && existing.Name == rec.Name {
			return Record{}, errNameTaken
		}
	}
	rec.State = StateActive
	rec.CreatedAt = f.db.tick()
	f.db.items[rec.ID] = rec
	return f.db.joined(rec), nil
}

func (f *fakeRecords) filter(keep func(Record) bool, less func(a, b Record) bool) []Record {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	out := []Record{}
	for _, rec := range f.db.items {
		if keep(rec) {
			out = append(out, f.db.joined(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byCreated(a, b Record) bool { return a.CreatedAt.Before(b.CreatedAt) }

func (f *fakeRecords) ListActive(ctx context.Context) ([]Record, error) {
	return f.filter(func(r Record) bool { return r.State == StateActive }, byCreated), nil
}

func (f *fakeRecords) ListActiveByBucket(ctx context.Context, bucketID uuid.UUID) ([]Record, error) {
	return f.filter(func(r Record) bool { return r.State == StateActive && r.BucketID == bucketID }, byCreated), nil
}

func (f *fakeRecords) ListDeleted(ctx context.Context) ([]Record, error) {
	return f.filter(func(r Record) bool { return r.State == StateSoftDeleted }, func(a, b Record) bool {
		return a.DeletedAt.After(*b.DeletedAt)
	}), nil
}

func (f *fakeRecords) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rec, ok := f.db.items[id]
	if !ok {
		return Record{}, ErrItemNotFound
	}
	return f.db.joined(rec), nil
}

func (f *fakeRecords) GetActiveByName(ctx context.Context, bucketID uuid.UUID, name string) (Record, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, rec := range f.db.items {
		if rec.BucketID == bucketID && rec.Name == name && rec.State == StateActive {
			return f.db.joined(rec), nil
		}
	}
	return Record{}, ErrItemNotFound
}

func (f *fakeRecords) SoftDelete(ctx context.Context, bucketID, id uuid.UUID) (Record, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rec, ok := f.db.items[id]
	if !ok || rec.BucketID != bucketID {
		return Record{}, ErrItemNotFound
	}
	rec.State = StateSoftDeleted
	if rec.DeletedAt == nil {
		now := f.db.tick()
		rec.DeletedAt = &now
	}
	f.db.items[id] = rec
	return f.db.joined(rec), nil
}

func (f *fakeRecords) Restore(ctx context.Context, id uuid.UUID) (Record, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rec, ok := f.db.items[id]
	if !ok || rec.State != StateSoftDeleted {
		return Record{}, ErrItemNotFound
	}
	rec.State = StateActive
	rec.DeletedAt = nil
	f.db.items[id] = rec
	return f.db.joined(rec), nil
}

func (f *fakeRecords) Purge(ctx context.Context, id uuid.UUID) (Record, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	rec, ok := f.db.items[id]
	if !ok || rec.State != StateSoftDeleted {
		return Record{}, ErrItemNotFound
	}
	delete(f.db.items, id)
	return f.db.joined(rec), nil
}
