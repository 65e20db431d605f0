// Package cloner stages new snapshots by hardlinking the previous one.
package cloner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/fgeck/gosnap-homelab/internal/services/storage"
	"github.com/rs/zerolog"
)

// Service defines the interface for staging snapshots.
type Service interface {
	Clone(ctx context.Context, id int64) (*models.CloneResult, error)
}

// Impl implements the cloner Service interface.
type Impl struct {
	storage storage.Service
	logger  zerolog.Logger
}

// New creates a new cloner service working on store.
func New(logger zerolog.Logger, store storage.Service) *Impl {
	return &Impl{
		storage: store,
		logger:  logger,
	}
}

// Clone creates the staged snapshot id. When a finished snapshot older than
// id exists, every directory of it is recreated and every file hardlinked
// into the staged tree; no file content is copied.
func (s *Impl) Clone(ctx context.Context, id int64) (*models.CloneResult, error) {
	start := time.Now()

	listing, err := s.storage.Scan()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}
	if listing.Has(id) {
		return nil, fmt.Errorf("%w: %d", models.ErrTimestampCollision, id)
	}
	if n := len(listing.Finished); n > 0 && listing.Finished[n-1].ID > id {
		s.logger.Warn().
			Int64("snapshot_id", id).
			Int64("newest", listing.Finished[n-1].ID).
			Msg("storage root holds snapshots newer than the current clock")
	}

	fsys := s.storage.FS()
	result := &models.CloneResult{
		Staged: models.Snapshot{
			ID:    id,
			State: models.StateStaged,
			Path:  filepath.Join(s.storage.Root(), models.StagedName(id)),
		},
		Previous: listing.Latest(id),
	}

	if err := fsys.Mkdir(result.Staged.Path, storage.DirPerm); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %d", models.ErrTimestampCollision, id)
		}
		return nil, fmt.Errorf("%w: creating %s: %w", models.ErrCloneFailure, result.Staged.Path, err)
	}

	if result.Previous == nil {
		s.logger.Info().
			Int64("snapshot_id", id).
			Msg("no previous snapshot, starting from an empty tree")
		result.Duration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Int64("snapshot_id", id).
		Int64("previous", result.Previous.ID).
		Msg("hardlinking previous snapshot")

	if err := s.linkTree(ctx, fsys, result.Previous.Path, result.Staged.Path, result); err != nil {
		// The staged tree only holds links created by this run.
		if rmErr := fsys.RemoveAll(result.Staged.Path); rmErr != nil {
			s.logger.Error().Err(rmErr).Str("path", result.Staged.Path).Msg("failed to remove partial staged snapshot")
		}
		return nil, fmt.Errorf("%w: %w", models.ErrCloneFailure, err)
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Int64("snapshot_id", id).
		Int("dirs", result.Dirs).
		Int("files", result.Files).
		Int("symlinks", result.Symlinks).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("previous snapshot cloned")

	return result, nil
}

func (s *Impl) linkTree(ctx context.Context, fsys storage.FS, src, dst string, result *models.CloneResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := fsys.ReadDir(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		switch mode := e.Type(); {
		case mode.IsDir():
			info, err := e.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", from, err)
			}
			// Owner write is kept so the synchronizer can fill the directory.
			if err := fsys.Mkdir(to, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("creating %s: %w", to, err)
			}
			result.Dirs++
			if err := s.linkTree(ctx, fsys, from, to, result); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := fsys.Link(from, to); err != nil {
				return fmt.Errorf("linking %s: %w", from, err)
			}
			result.Files++
		case mode&os.ModeSymlink != 0:
			target, err := fsys.Readlink(from)
			if err != nil {
				return fmt.Errorf("reading link %s: %w", from, err)
			}
			if err := fsys.Symlink(target, to); err != nil {
				return fmt.Errorf("creating link %s: %w", to, err)
			}
			result.Symlinks++
		default:
			s.logger.Debug().Str("path", from).Str("mode", mode.String()).Msg("skipping special file")
			result.Skipped++
		}
	}

	return nil
}
