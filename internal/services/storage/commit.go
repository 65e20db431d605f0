package storage

import (
	"fmt"

	"github.com/fgeck/gosnap-homelab/internal/models"
)

// Commit promotes a staged snapshot to its finished name with a single
// rename. It is not retried; a failure leaves the staged directory behind for
// the next consistency check.
func (s *Impl) Commit(staged models.Snapshot) (models.Snapshot, error) {
	if staged.State != models.StateStaged {
		return models.Snapshot{}, fmt.Errorf("%w: snapshot %d is not staged", models.ErrCommitFailure, staged.ID)
	}

	finished := models.Snapshot{
		ID:    staged.ID,
		State: models.StateFinished,
		Path:  s.Path(models.FinishedName(staged.ID)),
	}

	// rename(2) replaces an empty target directory silently.
	if _, err := s.fs.Lstat(finished.Path); err == nil {
		return models.Snapshot{}, fmt.Errorf("%w: %s already exists", models.ErrCommitFailure, finished.Path)
	}

	if err := s.fs.Rename(staged.Path, finished.Path); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: %w", models.ErrCommitFailure, err)
	}

	s.logger.Info().
		Int64("snapshot_id", finished.ID).
		Str("path", finished.Path).
		Msg("snapshot committed")

	return finished, nil
}
