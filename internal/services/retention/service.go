// Package retention prunes finished snapshots that fell out of the
// retention window.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/fgeck/gosnap-homelab/internal/services/storage"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

const secondsPerDay = 24 * 60 * 60

// Service defines the interface for retention operations.
type Service interface {
	Apply(ctx context.Context, policy models.RetentionPolicy) (*models.RetentionResult, error)
}

// Impl implements the retention Service interface.
type Impl struct {
	storage storage.Service
	clock   clock.Clock
	logger  zerolog.Logger
}

// New creates a new retention service.
func New(logger zerolog.Logger, store storage.Service) *Impl {
	return NewWithClock(logger, store, clock.WallClock)
}

// NewWithClock creates a new retention service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, store storage.Service, clk clock.Clock) *Impl {
	return &Impl{
		storage: store,
		clock:   clk,
		logger:  logger,
	}
}

// Classify decides the fate of every finished entry. Staged entries are
// skipped; they are never retention candidates. Anything that is not a
// directory is reported as unparseable. An entry is outdated when
// now - id > maxAgeDays * 86400 seconds, unless its id is policy.Keep.
func Classify(entries []models.Entry, now time.Time, policy models.RetentionPolicy) []models.RetentionDecision {
	maxAge := int64(policy.MaxAgeDays) * secondsPerDay
	nowSec := now.Unix()

	decisions := make([]models.RetentionDecision, 0, len(entries))
	for _, e := range entries {
		if models.IsStagedName(e.Name) {
			continue
		}

		id, ok := models.ParseFinishedName(e.Name)
		if !ok || !e.IsDir {
			decisions = append(decisions, models.RetentionDecision{Entry: e, Class: models.ClassUnparseable})
			continue
		}

		age := nowSec - id
		class := models.ClassCurrent
		if age > maxAge && id != policy.Keep {
			class = models.ClassOutdated
		}
		decisions = append(decisions, models.RetentionDecision{
			Entry: e,
			ID:    id,
			Class: class,
			Age:   time.Duration(age) * time.Second,
		})
	}
	return decisions
}

// Apply classifies the whole storage root first and only then removes the
// outdated snapshots. Removal failures are collected, not returned.
func (s *Impl) Apply(ctx context.Context, policy models.RetentionPolicy) (*models.RetentionResult, error) {
	s.logger.Info().
		Int("max_age_days", policy.MaxAgeDays).
		Int64("keep", policy.Keep).
		Msg("applying retention policy")

	start := s.clock.Now()

	entries, err := s.storage.Entries()
	if err != nil {
		return nil, fmt.Errorf("scanning storage root: %w", err)
	}

	decisions := Classify(entries, start, policy)

	result := &models.RetentionResult{}
	var outdated []models.RetentionDecision
	for _, d := range decisions {
		switch d.Class {
		case models.ClassOutdated:
			outdated = append(outdated, d)
		case models.ClassUnparseable:
			result.Unparseable = append(result.Unparseable, d.Entry.Name)
		default:
			result.Current = append(result.Current, d.Entry.Name)
		}
	}

	if len(result.Unparseable) > 0 {
		s.logger.Warn().
			Strs("entries", result.Unparseable).
			Msg("entries without a timestamp name are kept")
	}

	for _, d := range outdated {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, models.RemovalFailure{
				Name: d.Entry.Name,
				Err:  fmt.Errorf("%w: %w", models.ErrRemovalFailure, err),
			})
			continue
		}

		s.logger.Info().
			Str("snapshot", d.Entry.Name).
			Dur("age", d.Age).
			Msg("removing outdated snapshot")

		if err := s.storage.Remove(d.Entry.Name); err != nil {
			s.logger.Error().Err(err).Str("snapshot", d.Entry.Name).Msg("failed to remove outdated snapshot")
			result.Failures = append(result.Failures, models.RemovalFailure{
				Name: d.Entry.Name,
				Err:  fmt.Errorf("%w: %w", models.ErrRemovalFailure, err),
			})
			continue
		}
		result.Outdated = append(result.Outdated, d.Entry.Name)
	}

	result.Duration = s.clock.Now().Sub(start)

	s.logger.Info().
		Int("current", len(result.Current)).
		Int("removed", len(result.Outdated)).
		Int("unparseable", len(result.Unparseable)).
		Int("failures", len(result.Failures)).
		Msg("retention policy applied")

	return result, nil
}
