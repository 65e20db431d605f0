// Package synchronizer mirrors backup sources into a staged snapshot.
package synchronizer

import (
	"context"
	"fmt"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service mirrors source into dest: afterwards dest is byte-identical to
// source, entries missing from source are removed, and modification times
// and permissions are preserved. Implementations must replace changed files
// instead of rewriting them in place, because dest files start out as
// hardlinks into the previous snapshot.
type Service interface {
	Sync(ctx context.Context, source, dest string) (*models.SyncResult, error)
}

// New returns the synchronizer selected by settings.
func New(logger zerolog.Logger, settings models.SyncSettings) (Service, error) {
	switch settings.Engine {
	case "", models.SyncEngineRsync:
		return NewRsync(logger, settings), nil
	case models.SyncEngineNative:
		return NewNative(logger), nil
	default:
		return nil, fmt.Errorf("unknown sync engine %q", settings.Engine)
	}
}
