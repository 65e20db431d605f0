package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/fgeck/gosnap-homelab/internal/services/cloner"
	"github.com/fgeck/gosnap-homelab/internal/services/events"
	"github.com/fgeck/gosnap-homelab/internal/services/retention"
	"github.com/fgeck/gosnap-homelab/internal/services/storage"
	"github.com/fgeck/gosnap-homelab/internal/services/synchronizer"
	"github.com/juju/clock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SourcePreparer produces an additional backup source right before sources
// are resolved, e.g. a database dump directory.
type SourcePreparer interface {
	Name() string
	Prepare(ctx context.Context) (string, error)
}

// RunContext is the state handed from one pipeline stage to the next.
type RunContext struct {
	RunID      string
	StartTime  time.Time
	SnapshotID int64
	Sources    []models.SourceMount
	Previous   *models.Snapshot
	Staged     models.Snapshot
	Finished   models.Snapshot
	Retention  *models.RetentionResult
}

// Pipeline runs one snapshot: consistency check, source resolution, clone,
// sync, commit and retention. It keeps no state between runs.
type Pipeline struct {
	storage   storage.Service
	cloner    cloner.Service
	syncer    synchronizer.Service
	retention retention.Service
	sink      events.Sink
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewPipeline creates a pipeline for the storage root and synchronizer
// described by cfg.
func NewPipeline(logger zerolog.Logger, cfg models.Config, sink events.Sink) (*Pipeline, error) {
	syncer, err := synchronizer.New(logger, cfg.Sync)
	if err != nil {
		return nil, err
	}
	store := storage.New(logger, cfg.Storage.HostRoot())
	return NewPipelineWithServices(
		logger,
		store,
		cloner.New(logger, store),
		syncer,
		retention.New(logger, store),
		sink,
		clock.WallClock,
	), nil
}

// NewPipelineWithServices creates a pipeline with custom services (for testing).
func NewPipelineWithServices(
	logger zerolog.Logger,
	store storage.Service,
	cl cloner.Service,
	syncer synchronizer.Service,
	ret retention.Service,
	sink events.Sink,
	clk clock.Clock,
) *Pipeline {
	return &Pipeline{
		storage:   store,
		cloner:    cl,
		syncer:    syncer,
		retention: ret,
		sink:      sink,
		clock:     clk,
		logger:    logger,
	}
}

// Run executes the pipeline once. Any error before the commit leaves the
// set of finished snapshots unchanged; the returned error is a
// *models.StageError wrapping one of the models.Err* sentinels.
func (p *Pipeline) Run(ctx context.Context, cfg models.Config, preparers ...SourcePreparer) (*models.RunSummary, error) {
	rc := RunContext{
		RunID:     ulid.Make().String(),
		StartTime: p.clock.Now(),
	}

	p.logger.Info().
		Str("run_id", rc.RunID).
		Str("root", p.storage.Root()).
		Int("sources", len(cfg.Sources)).
		Msg("starting snapshot run")

	if err := p.stage(&rc, models.StageConsistency, "", p.storage.CheckConsistency); err != nil {
		return nil, err
	}

	if err := p.stage(&rc, models.StageResolve, "", func() (err error) {
		rc, err = p.resolveSources(ctx, rc, cfg.Sources, preparers)
		return err
	}); err != nil {
		return nil, err
	}

	rc.SnapshotID = rc.StartTime.Unix()

	if err := p.stage(&rc, models.StageClone, "", func() (err error) {
		rc, err = p.clone(ctx, rc)
		return err
	}); err != nil {
		return nil, err
	}

	// The staged snapshot stays in place on failure; it is never promoted.
	if err := p.synchronize(ctx, rc, cfg.Sync.Parallel); err != nil {
		return nil, err
	}

	if err := p.stage(&rc, models.StageCommit, "", func() (err error) {
		rc.Finished, err = p.storage.Commit(rc.Staged)
		return err
	}); err != nil {
		return nil, err
	}

	rc = p.applyRetention(ctx, rc, cfg.Retention)

	return p.summary(rc), nil
}

// stage runs fn between started and completed/failed events. Events read
// rc after fn returns, so they see what fn stored in it.
func (p *Pipeline) stage(rc *RunContext, name, source string, fn func() error) error {
	p.emit(rc, models.Event{Stage: name, Status: models.EventStarted, Source: source})
	if err := fn(); err != nil {
		p.emit(rc, models.Event{Stage: name, Status: models.EventFailed, Source: source, Err: err})
		return &models.StageError{Stage: name, Err: err}
	}
	p.emit(rc, models.Event{Stage: name, Status: models.EventCompleted, Source: source})
	return nil
}

func (p *Pipeline) emit(rc *RunContext, ev models.Event) {
	if p.sink == nil {
		return
	}
	ev.RunID = rc.RunID
	if ev.SnapshotID == 0 {
		ev.SnapshotID = rc.SnapshotID
	}
	if ev.Path == "" {
		ev.Path = rc.Finished.Path
		if ev.Path == "" {
			ev.Path = rc.Staged.Path
		}
	}
	ev.Time = p.clock.Now()
	p.sink.Emit(ev)
}

func (p *Pipeline) resolveSources(ctx context.Context, rc RunContext, configured []string, preparers []SourcePreparer) (RunContext, error) {
	paths := append([]string(nil), configured...)
	for _, prep := range preparers {
		path, err := prep.Prepare(ctx)
		if err != nil {
			return rc, fmt.Errorf("%w: preparing %s: %w", models.ErrSourceUnavailable, prep.Name(), err)
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return rc, fmt.Errorf("%w: no sources configured", models.ErrSourceUnavailable)
	}

	root, err := filepath.Abs(p.storage.Root())
	if err != nil {
		return rc, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}
	if resolvedRoot, err := filepath.EvalSymlinks(root); err == nil {
		root = resolvedRoot
	}

	seen := make(map[string]bool, len(paths))
	rc.Sources = make([]models.SourceMount, 0, len(paths))
	for _, configuredPath := range paths {
		mount, err := ResolveSource(configuredPath)
		if err != nil {
			return rc, err
		}
		if isWithin(mount.Resolved, root) || isWithin(root, mount.Resolved) {
			return rc, fmt.Errorf("%w: %s overlaps the storage root %s", models.ErrSourceUnavailable, mount.Resolved, root)
		}
		if seen[mount.Resolved] {
			p.logger.Warn().Str("source", configuredPath).Str("resolved", mount.Resolved).Msg("duplicate source skipped")
			continue
		}
		seen[mount.Resolved] = true
		rc.Sources = append(rc.Sources, mount)

		p.logger.Debug().
			Str("source", configuredPath).
			Str("resolved", mount.Resolved).
			Str("subpath", mount.Subpath).
			Msg("source resolved")
	}
	return rc, nil
}

// ResolveSource makes a configured source absolute and follows symlinks so
// the snapshot captures the target content.
func ResolveSource(configured string) (models.SourceMount, error) {
	abs, err := filepath.Abs(configured)
	if err != nil {
		return models.SourceMount{}, fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, configured, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return models.SourceMount{}, fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, configured, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return models.SourceMount{}, fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, configured, err)
	}
	if !info.IsDir() {
		return models.SourceMount{}, fmt.Errorf("%w: %s is not a directory", models.ErrSourceUnavailable, configured)
	}
	return models.SourceMount{
		Configured: configured,
		Resolved:   resolved,
		Subpath:    models.MountSubpath(resolved),
	}, nil
}

func (p *Pipeline) clone(ctx context.Context, rc RunContext) (RunContext, error) {
	if err := p.storage.Ensure(); err != nil {
		return rc, err
	}
	result, err := p.cloner.Clone(ctx, rc.SnapshotID)
	if err != nil {
		return rc, err
	}
	rc.Staged = result.Staged
	rc.Previous = result.Previous
	return rc, nil
}

// synchronize mirrors every source into the staged snapshot. Sources run in
// configuration order unless parallel is requested and their destinations
// cannot overlap.
func (p *Pipeline) synchronize(ctx context.Context, rc RunContext, parallel bool) error {
	if parallel && Disjoint(rc.Sources) && len(rc.Sources) > 1 {
		p.logger.Debug().Int("sources", len(rc.Sources)).Msg("synchronizing sources in parallel")
		g, gctx := errgroup.WithContext(ctx)
		for _, mount := range rc.Sources {
			mount := mount
			g.Go(func() error {
				return p.syncOne(gctx, rc, mount)
			})
		}
		return g.Wait()
	}

	if parallel {
		p.logger.Warn().Msg("sources overlap, synchronizing sequentially")
	}
	for _, mount := range rc.Sources {
		if err := p.syncOne(ctx, rc, mount); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) syncOne(ctx context.Context, rc RunContext, mount models.SourceMount) error {
	dest := filepath.Join(rc.Staged.Path, mount.Subpath)
	return p.stage(&rc, models.StageSync, mount.Resolved, func() error {
		result, err := p.syncer.Sync(ctx, mount.Resolved, dest)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", models.ErrSynchronizationFailure, mount.Resolved, err)
		}
		if result.Error != nil {
			return fmt.Errorf("%w: %s: %w", models.ErrSynchronizationFailure, mount.Resolved, result.Error)
		}
		return nil
	})
}

// Disjoint reports whether no source is mounted at or below another one.
func Disjoint(mounts []models.SourceMount) bool {
	for i := range mounts {
		for j := range mounts {
			if i != j && isWithin(mounts[i].Subpath, mounts[j].Subpath) {
				return false
			}
		}
	}
	return true
}

// isWithin reports whether path equals parent or lies below it.
func isWithin(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// applyRetention never fails the run: the snapshot is already committed
// and is protected from removal whatever the policy says.
func (p *Pipeline) applyRetention(ctx context.Context, rc RunContext, policy models.RetentionPolicy) RunContext {
	p.emit(&rc, models.Event{Stage: models.StageRetention, Status: models.EventStarted})

	policy.Keep = rc.Finished.ID
	result, err := p.retention.Apply(ctx, policy)
	if err != nil {
		result = &models.RetentionResult{
			Failures: []models.RemovalFailure{{Name: p.storage.Root(), Err: errors.Join(models.ErrRemovalFailure, err)}},
		}
	}
	rc.Retention = result

	ev := models.Event{
		Stage:       models.StageRetention,
		Status:      models.EventCompleted,
		Outdated:    result.Outdated,
		Unparseable: result.Unparseable,
		Failures:    result.Failures,
	}
	if len(result.Failures) > 0 {
		ev.Status = models.EventFailed
		ev.Err = result.Failures[0].Err
	}
	p.emit(&rc, ev)

	return rc
}

func (p *Pipeline) summary(rc RunContext) *models.RunSummary {
	s := &models.RunSummary{
		RunID:      rc.RunID,
		SnapshotID: rc.Finished.ID,
		Sources:    rc.Sources,
		StartTime:  rc.StartTime,
		Duration:   p.clock.Now().Sub(rc.StartTime),
	}
	if rc.Previous != nil {
		s.Previous = rc.Previous.ID
	}
	if rc.Retention != nil {
		s.Retained = rc.Retention.Current
		s.Outdated = rc.Retention.Outdated
		s.Unparseable = rc.Retention.Unparseable
		s.Failures = rc.Retention.Failures
	}

	p.logger.Info().
		Str("run_id", s.RunID).
		Int64("snapshot_id", s.SnapshotID).
		Int("outdated", s.OutdatedCount()).
		Int("unparseable", s.UnparseableCount()).
		Int("removal_failures", len(s.Failures)).
		Dur("duration", s.Duration).
		Msg("snapshot run completed")

	return s
}
