package storage

import (
	"fmt"
	"strings"

	"github.com/fgeck/gosnap-homelab/internal/models"
)

// CheckConsistency fails with ErrInconsistentStorage when a staged snapshot
// from an earlier run is present. A missing root is consistent.
func (s *Impl) CheckConsistency() error {
	if _, err := s.fs.Lstat(s.root); err != nil {
		s.logger.Debug().Str("root", s.root).Msg("storage root does not exist yet")
		return nil
	}

	entries, err := s.Entries()
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}

	var leftovers []string
	for _, e := range entries {
		if models.IsStagedName(e.Name) {
			leftovers = append(leftovers, e.Name)
		}
	}

	if len(leftovers) > 0 {
		s.logger.Error().
			Strs("staged", leftovers).
			Str("root", s.root).
			Msg("found staged snapshots from an interrupted run, resolve them manually")
		return fmt.Errorf("%w: %s", models.ErrInconsistentStorage, strings.Join(leftovers, ", "))
	}

	return nil
}
