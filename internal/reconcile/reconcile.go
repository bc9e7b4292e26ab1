// Package reconcile finds and repairs drift between bucket directories and
// the bucket and item rows that describe them.
//
// The bucket and item services undo their own partial writes, but an undo can
// fail and a process can die between the two halves of a write. Sweep cleans
// up what is safe to clean (abandoned staging files, tombstones of deleted
// buckets) and reports the rest.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abduss/imgstore/internal/bucket"
	"github.com/abduss/imgstore/internal/config"
	"github.com/abduss/imgstore/internal/item"
	"github.com/abduss/imgstore/internal/metrics"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metric action labels.
const (
	ActionStagingRemoved   = "staging_removed"
	ActionTombstoneRemoved = "tombstone_removed"
	ActionDirWithoutRow    = "dir_without_row"
	ActionRowWithoutDir    = "row_without_dir"
	ActionOrphanFile       = "orphan_file"
	ActionOrphanRemoved    = "orphan_removed"
)

type bucketLister interface {
	List(ctx context.Context) ([]bucket.Bucket, error)
}

type itemLister interface {
	ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]item.Record, error)
}

// Report summarizes one sweep.
type Report struct {
	StagingRemoved    int
	TombstonesRemoved int
	DirsWithoutRow    []string
	RowsWithoutDir    []string
	OrphanFiles       []string
	OrphansRemoved    int
}

// Sweeper compares storage against the database.
type Sweeper struct {
	buckets bucketLister
	items   itemLister
	files   storage.Backend
	cfg     config.ReconcileConfig
	log     *zap.Logger
	now     func() time.Time
}

// New constructs a Sweeper.
func New(buckets bucketLister, items itemLister, files storage.Backend, cfg config.ReconcileConfig, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		buckets: buckets,
		items:   items,
		files:   files,
		cfg:     cfg,
		log:     log.Named("reconcile"),
		now:     time.Now,
	}
}

// Sweep runs one pass. Directories without rows and rows without directories
// are only reported: either may be a create or delete that is still running.
// Files without rows are reported once older than the TTL and removed only
// when RemoveOrphans is set.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	cutoff := s.now().Add(-s.cfg.TTL)

	removed, err := s.files.SweepStaging(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("sweep staging: %w", err)
	}
	report.StagingRemoved = removed

	buckets, err := s.buckets.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list buckets: %w", err)
	}
	dirs, err := s.files.ListDirs(ctx)
	if err != nil {
		return report, fmt.Errorf("list directories: %w", err)
	}

	liveIDs := make(map[string]struct{}, len(buckets))
	liveNames := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		liveIDs[b.ID.String()] = struct{}{}
		liveNames[b.Name] = struct{}{}
	}

	onDisk := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		onDisk[dir] = struct{}{}
		if storage.IsTombstone(dir) {
			// A tombstone whose row still exists belongs to a delete in flight.
			id := strings.TrimPrefix(dir, storage.TombstoneName(""))
			if _, live := liveIDs[id]; live {
				continue
			}
			if err := s.files.RemoveDir(ctx, dir); err != nil {
				s.log.Warn("remove tombstone failed", zap.String("dir", dir), zap.Error(err))
				continue
			}
			report.TombstonesRemoved++
			s.log.Info("removed tombstone", zap.String("dir", dir))
			continue
		}
		if _, ok := liveNames[dir]; !ok {
			report.DirsWithoutRow = append(report.DirsWithoutRow, dir)
			s.log.Warn("directory without bucket row", zap.String("dir", dir))
		}
	}

	for _, b := range buckets {
		if _, ok := onDisk[b.Name]; !ok {
			report.RowsWithoutDir = append(report.RowsWithoutDir, b.Name)
			s.log.Warn("bucket row without directory", zap.String("bucket_id", b.ID.String()), zap.String("bucket", b.Name))
			continue
		}
		if err := s.sweepBucket(ctx, b, cutoff, &report); err != nil {
			return report, err
		}
	}

	s.record(report)
	return report, nil
}

func (s *Sweeper) sweepBucket(ctx context.Context, b bucket.Bucket, cutoff time.Time, report *Report) error {
	records, err := s.items.ListByBucket(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("list items of %s: %w", b.Name, err)
	}
	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		known[rec.Name] = struct{}{}
	}

	files, err := s.files.ListFiles(ctx, b.Name)
	if err != nil {
		return fmt.Errorf("list files of %s: %w", b.Name, err)
	}
	for _, f := range files {
		if _, ok := known[f.Name]; ok || !f.ModTime.Before(cutoff) {
			continue
		}
		path := storage.Join(b.Name, f.Name)
		report.OrphanFiles = append(report.OrphanFiles, path)
		if !s.cfg.RemoveOrphans {
			s.log.Warn("file without item row", zap.String("path", path), zap.Int64("size", f.Size))
			continue
		}
		if err := s.files.Remove(ctx, path); err != nil {
			s.log.Warn("remove orphan file failed", zap.String("path", path), zap.Error(err))
			continue
		}
		report.OrphansRemoved++
		s.log.Info("removed orphan file", zap.String("path", path), zap.Int64("size", f.Size))
	}
	return nil
}

func (s *Sweeper) record(report Report) {
	metrics.ReconcileAction(ActionStagingRemoved, report.StagingRemoved)
	metrics.ReconcileAction(ActionTombstoneRemoved, report.TombstonesRemoved)
	metrics.ReconcileAction(ActionDirWithoutRow, len(report.DirsWithoutRow))
	metrics.ReconcileAction(ActionRowWithoutDir, len(report.RowsWithoutDir))
	metrics.ReconcileAction(ActionOrphanFile, len(report.OrphanFiles))
	metrics.ReconcileAction(ActionOrphanRemoved, report.OrphansRemoved)

	s.log.Info("sweep complete",
		zap.Int("staging_removed", report.StagingRemoved),
		zap.Int("tombstones_removed", report.TombstonesRemoved),
		zap.Int("dirs_without_row", len(report.DirsWithoutRow)),
		zap.Int("rows_without_dir", len(report.RowsWithoutDir)),
		zap.Int("orphan_files", len(report.OrphanFiles)),
		zap.Int("orphans_removed", report.OrphansRemoved))
}

// RunPeriodic sweeps once immediately and then on every interval until ctx is
// cancelled. The returned channel is closed when the loop exits.
func (s *Sweeper) RunPeriodic(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", zap.Error(err))
	}
}
