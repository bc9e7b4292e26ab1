package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abduss/imgstore/internal/bucket"
	"github.com/abduss/imgstore/internal/config"
	"github.com/abduss/imgstore/internal/item"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBuckets struct{ buckets []bucket.Bucket }

func (f *fakeBuckets) List(ctx context.Context) ([]bucket.Bucket, error) {
	return f.buckets, nil
}

type fakeItems struct{ byBucket map[uuid.UUID][]item.Record }

func (f *fakeItems) ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]item.Record, error) {
	return f.byBucket[bucketID], nil
}

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, old, old))
}

type scenario struct {
	files   *storage.Local
	buckets *fakeBuckets
	items   *fakeItems
	photos  bucket.Bucket
	live    bucket.Bucket
}

// newScenario lays out:
//   - photos/known.webp with a row, photos/orphan.webp without one (old),
//     photos/fresh.webp without one (new)
//   - stray/ with no bucket row
//   - a bucket row "ghost" with no directory
//   - a tombstone of a deleted bucket and one of a delete still in flight
//   - an old staging file
func newScenario(t *testing.T) *scenario {
	t.Helper()
	ctx := context.Background()
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	photos := bucket.Bucket{ID: uuid.New(), Name: "photos"}
	ghost := bucket.Bucket{ID: uuid.New(), Name: "ghost"}
	live := bucket.Bucket{ID: uuid.New(), Name: "deleting"}

	require.NoError(t, files.CreateDir(ctx, "photos"))
	for _, name := range []string{"known.webp", "orphan.webp", "fresh.webp"} {
		_, err := files.Put(ctx, storage.Join("photos", name), strings.NewReader("x"))
		require.NoError(t, err)
	}
	age(t, filepath.Join(files.Root(), "photos", "known.webp"), 48*time.Hour)
	age(t, filepath.Join(files.Root(), "photos", "orphan.webp"), 48*time.Hour)

	require.NoError(t, files.CreateDir(ctx, "stray"))
	require.NoError(t, files.CreateDir(ctx, storage.TombstoneName(uuid.NewString())))
	require.NoError(t, files.CreateDir(ctx, storage.TombstoneName(live.ID.String())))

	staged := filepath.Join(files.Root(), ".staging", "put-old")
	require.NoError(t, os.WriteFile(staged, []byte("partial"), 0o640))
	age(t, staged, 48*time.Hour)

	return &scenario{
		files:   files,
		buckets: &fakeBuckets{buckets: []bucket.Bucket{photos, ghost, live}},
		items: &fakeItems{byBucket: map[uuid.UUID][]item.Record{
			photos.ID: {{ID: uuid.New(), BucketID: photos.ID, Name: "known.webp"}},
		}},
		photos: photos,
		live:   live,
	}
}

func TestSweepReportsAndRepairs(t *testing.T) {
	s := newScenario(t)
	cfg := config.ReconcileConfig{TTL: 24 * time.Hour}
	sweeper := New(s.buckets, s.items, s.files, cfg, zap.NewNop())

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.StagingRemoved)
	assert.Equal(t, 1, report.TombstonesRemoved)
	assert.Equal(t, []string{"stray"}, report.DirsWithoutRow)
	assert.ElementsMatch(t, []string{"ghost", "deleting"}, report.RowsWithoutDir)
	assert.Equal(t, []string{"photos/orphan.webp"}, report.OrphanFiles)
	assert.Zero(t, report.OrphansRemoved)

	ok, err := s.files.Exists(context.Background(), "photos/orphan.webp")
	require.NoError(t, err)
	assert.True(t, ok, "orphans are only reported by default")

	ok, err = s.files.DirExists(context.Background(), storage.TombstoneName(s.live.ID.String()))
	require.NoError(t, err)
	assert.True(t, ok, "tombstone of a bucket whose row still exists is kept")

	ok, err = s.files.DirExists(context.Background(), "stray")
	require.NoError(t, err)
	assert.True(t, ok, "directories without rows are only reported")
}

func TestSweepRemovesOrphansWhenEnabled(t *testing.T) {
	s := newScenario(t)
	cfg := config.ReconcileConfig{TTL: 24 * time.Hour, RemoveOrphans: true}
	sweeper := New(s.buckets, s.items, s.files, cfg, zap.NewNop())

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansRemoved)

	files, err := s.files.ListFiles(context.Background(), "photos")
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"known.webp", "fresh.webp"}, names)
}

func TestRunPeriodicStopsOnCancel(t *testing.T) {
	s := newScenario(t)
	sweeper := New(s.buckets, s.items, s.files, config.ReconcileConfig{TTL: 24 * time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := sweeper.RunPeriodic(ctx, time.Hour)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(s.files.Root(), ".staging", "put-old"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "first pass runs immediately")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop")
	}
}
