package bucket

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/abduss/imgstore/internal/logger"
	"github.com/abduss/imgstore/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type repository interface {
	Create(ctx context.Context, name string) (Bucket, error)
	List(ctx context.Context) ([]Bucket, error)
	Get(ctx context.Context, id uuid.UUID) (Bucket, error)
	GetByName(ctx context.Context, name string) (Bucket, error)
	Rename(ctx context.Context, id uuid.UUID, name string) (Bucket, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Service keeps bucket directories and bucket rows in step.
//
// Every mutation touches the directory first and the row second; when the row
// write fails the directory change is undone. The row is authoritative when an
// undo itself fails, and the reconciler reports or repairs what is left.
type Service struct {
	repo repository
	dirs storage.Backend
	log  *zap.Logger
}

// NewService constructs a bucket service.
func NewService(repo repository, dirs storage.Backend, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, dirs: dirs, log: log}
}

// Create makes the bucket directory and then inserts its row. Concurrent
// creates of one name have a single winner: the loser fails on mkdir or on the
// unique constraint and gets ErrBucketNameExists.
func (s *Service) Create(ctx context.Context, name string) (Bucket, error) {
	name = NormalizeName(name)
	if err := ValidateName(name); err != nil {
		return Bucket{}, err
	}

	if err := s.dirs.CreateDir(ctx, name); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Bucket{}, ErrBucketNameExists
		}
		return Bucket{}, fmt.Errorf("create bucket directory: %w", err)
	}

	bucket, err := s.repo.Create(ctx, name)
	if err != nil {
		if rmErr := s.dirs.RemoveDir(context.WithoutCancel(ctx), name); rmErr != nil {
			s.logFor(ctx).Error("remove directory after failed insert", zap.String("bucket", name), zap.Error(rmErr))
		}
		return Bucket{}, err
	}

	s.logFor(ctx).Info("bucket created", zap.String("bucket_id", bucket.ID.String()), zap.String("bucket", name))
	return bucket, nil
}

// List returns every bucket with its active size.
func (s *Service) List(ctx context.Context) ([]Bucket, error) {
	return s.repo.List(ctx)
}

// Get returns a bucket by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Bucket, error) {
	return s.repo.Get(ctx, id)
}

// GetByName returns a bucket by name.
func (s *Service) GetByName(ctx context.Context, name string) (Bucket, error) {
	return s.repo.GetByName(ctx, name)
}

// Rename moves the directory and then updates the row. A taken target fails
// before the row is touched; a failed row update moves the directory back.
func (s *Service) Rename(ctx context.Context, id uuid.UUID, newName string) (Bucket, error) {
	newName = NormalizeName(newName)
	if err := ValidateName(newName); err != nil {
		return Bucket{}, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Bucket{}, err
	}
	if current.Name == newName {
		return current, nil
	}

	if err := s.dirs.RenameDir(ctx, current.Name, newName); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return Bucket{}, ErrBucketNameExists
		case errors.Is(err, fs.ErrNotExist):
			return Bucket{}, ErrBucketNotFound
		}
		return Bucket{}, fmt.Errorf("rename bucket directory: %w", err)
	}

	renamed, err := s.repo.Rename(ctx, id, newName)
	if err != nil {
		if undoErr := s.dirs.RenameDir(context.WithoutCancel(ctx), newName, current.Name); undoErr != nil {
			s.logFor(ctx).Error("restore directory name after failed update",
				zap.String("bucket_id", id.String()),
				zap.String("from", newName),
				zap.String("to", current.Name),
				zap.Error(undoErr))
		}
		return Bucket{}, err
	}

	s.logFor(ctx).Info("bucket renamed", zap.String("bucket_id", id.String()), zap.String("from", current.Name), zap.String("to", newName))
	return renamed, nil
}

// Delete parks the directory under a tombstone name, deletes the row (items
// cascade), then removes the tombstone. The name is free for reuse as soon as
// the row is gone.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	tombstone := storage.TombstoneName(id.String())
	if err := s.dirs.RenameDir(ctx, current.Name, tombstone); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBucketNotFound
		}
		return fmt.Errorf("park bucket directory: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if undoErr := s.dirs.RenameDir(context.WithoutCancel(ctx), tombstone, current.Name); undoErr != nil {
			s.logFor(ctx).Error("restore directory after failed delete",
				zap.String("bucket_id", id.String()),
				zap.String("bucket", current.Name),
				zap.Error(undoErr))
		}
		return err
	}

	if err := s.dirs.RemoveDir(context.WithoutCancel(ctx), tombstone); err != nil {
		s.logFor(ctx).Warn("tombstone left for reconciler", zap.String("dir", tombstone), zap.Error(err))
	}

	s.logFor(ctx).Info("bucket deleted", zap.String("bucket_id", id.String()), zap.String("bucket", current.Name))
	return nil
}

// logFor prefers the request logger so service lines carry the correlation id.
func (s *Service) logFor(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, s.log).Named("bucket")
}
