// Package lock keeps two runs from working on the same storage root.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/rs/zerolog"
)

// ErrLocked is returned when another run holds the lock past the timeout.
var ErrLocked = errors.New("another run is active on this storage root")

// Releaser releases an acquired lock.
type Releaser interface {
	Release()
}

// Service defines the interface for the run lock.
type Service interface {
	Acquire(root string, timeout time.Duration, cancel <-chan struct{}) (Releaser, error)
}

// Impl implements the lock Service with a machine wide named mutex.
type Impl struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a new lock service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClock(logger, clock.WallClock)
}

// NewWithClock creates a new lock service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, clk clock.Clock) *Impl {
	return &Impl{clock: clk, logger: logger}
}

// Name derives the mutex name for a storage root. Mutex names must start
// with a letter and stay short, so the root path is hashed.
func Name(root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return "snapshot-" + hex.EncodeToString(sum[:])[:16]
}

// Acquire blocks until the lock for root is held, timeout expires or cancel
// is closed.
func (s *Impl) Acquire(root string, timeout time.Duration, cancel <-chan struct{}) (Releaser, error) {
	name := Name(root)
	s.logger.Debug().Str("root", root).Str("mutex", name).Msg("acquiring run lock")

	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    name,
		Clock:   s.clock,
		Delay:   250 * time.Millisecond,
		Timeout: timeout,
		Cancel:  cancel,
	})
	if err != nil {
		if errors.Is(err, mutex.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, root)
		}
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}

	s.logger.Debug().Str("mutex", name).Msg("run lock acquired")
	return releaser, nil
}
