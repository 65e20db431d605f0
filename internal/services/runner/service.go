// Package runner orchestrates a snapshot run: waking the storage host,
// running the snapshot pipeline and the hooks around it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/fgeck/gosnap-homelab/internal/services/events"
	"github.com/fgeck/gosnap-homelab/internal/services/metrics"
	"github.com/fgeck/gosnap-homelab/internal/services/postgres"
	"github.com/fgeck/gosnap-homelab/internal/services/ssh"
	"github.com/fgeck/gosnap-homelab/internal/services/storage"
	"github.com/fgeck/gosnap-homelab/internal/services/telegram"
	"github.com/fgeck/gosnap-homelab/internal/services/wol"
	"github.com/rs/zerolog"
)

// Steps outside the pipeline that can fail a run.
const (
	StepWOL         = "wol"
	StepSetup       = "setup"
	StepSSHShutdown = "ssh_shutdown"
)

// Service defines the interface for the snapshot runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) (*models.RunSummary, error)
}

// SnapshotRunner executes the snapshot pipeline once.
type SnapshotRunner interface {
	Run(ctx context.Context, cfg models.Config, preparers ...SourcePreparer) (*models.RunSummary, error)
}

// PipelineFactory builds the snapshot pipeline for cfg.
type PipelineFactory func(logger zerolog.Logger, cfg models.Config, sink events.Sink) (SnapshotRunner, error)

// Impl implements the runner Service interface.
type Impl struct {
	newPipeline PipelineFactory
	wolSvc      wol.Service
	postgresSvc postgres.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		newPipeline: defaultPipeline,
		wolSvc:      wol.New(logger),
		postgresSvc: postgres.New(logger),
		sshSvc:      ssh.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	pipeline SnapshotRunner,
	wolSvc wol.Service,
	postgresSvc postgres.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		newPipeline: func(zerolog.Logger, models.Config, events.Sink) (SnapshotRunner, error) {
			return pipeline, nil
		},
		wolSvc:      wolSvc,
		postgresSvc: postgresSvc,
		sshSvc:      sshSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
	}
}

func defaultPipeline(logger zerolog.Logger, cfg models.Config, sink events.Sink) (SnapshotRunner, error) {
	p, err := NewPipeline(logger, cfg, sink)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Run wakes the storage host, runs the pipeline and then shuts the host
// down, notifies and writes metrics as configured. The summary is nil when
// no snapshot was committed.
func (s *Impl) Run(ctx context.Context, cfg models.Config) (summary *models.RunSummary, runErr error) {
	startTime := time.Now()
	var failedStage string
	var usage *models.Usage

	s.logger.Info().
		Str("root", cfg.Storage.HostRoot()).
		Str("host", cfg.Storage.Host).
		Msg("starting run")

	sink := events.MultiSink{events.NewLogSink(s.logger)}
	var collector *metrics.Collector
	if cfg.Metrics.Textfile != "" {
		collector = metrics.NewCollector(s.logger)
		sink = append(sink, collector)
	}

	defer func() {
		if cfg.SSHShutdown != nil && (runErr == nil || cfg.SSHShutdown.OnFailure) {
			if err := s.runSSHShutdown(ctx, cfg.SSHShutdown); err != nil && runErr == nil {
				failedStage = StepSSHShutdown
				runErr = err
			}
		}
		if cfg.Telegram != nil {
			s.sendNotification(ctx, cfg, summary, usage, failedStage, runErr)
		}
		if collector != nil {
			collector.Observe(summary, usage, runErr, time.Since(startTime))
			if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write metrics")
			}
		}
	}()

	if cfg.WOL != nil {
		failedStage = StepWOL
		if err := s.runWOL(ctx, cfg.WOL); err != nil {
			return nil, err
		}
	}

	failedStage = StepSetup
	pipeline, err := s.newPipeline(s.logger, cfg, sink)
	if err != nil {
		return nil, fmt.Errorf("setting up pipeline: %w", err)
	}

	var preparers []SourcePreparer
	if cfg.Postgres != nil {
		preparers = append(preparers, &postgresPreparer{svc: s.postgresSvc, cfg: *cfg.Postgres})
	}

	summary, err = pipeline.Run(ctx, cfg, preparers...)
	if err != nil {
		var stageErr *models.StageError
		if errors.As(err, &stageErr) {
			failedStage = stageErr.Stage
		}
		return nil, err
	}
	failedStage = ""

	snapshotPath := filepath.Join(cfg.Storage.HostRoot(), models.FinishedName(summary.SnapshotID))
	if u, err := storage.MeasureUsage(snapshotPath); err != nil {
		s.logger.Warn().Err(err).Str("path", snapshotPath).Msg("failed to measure snapshot usage")
	} else {
		usage = &u
		s.logger.Info().
			Int("files", u.Files).
			Int64("bytes", u.Bytes).
			Int("shared_files", u.SharedFiles).
			Int64("unique_bytes", u.UniqueBytes).
			Msg("snapshot usage measured")
	}

	s.logger.Info().
		Int64("snapshot_id", summary.SnapshotID).
		Dur("duration", time.Since(startTime)).
		Msg("run completed successfully")

	return summary, nil
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady {
		return errors.New("storage host did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Int("attempts", result.Attempts).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runSSHShutdown(ctx context.Context, cfg *models.SSHShutdownConfig) error {
	result, err := s.sshSvc.Shutdown(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("SSH shutdown failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("SSH shutdown failed: %w", result.Error)
	}
	return nil
}

func (s *Impl) sendNotification(
	ctx context.Context,
	cfg models.Config,
	summary *models.RunSummary,
	usage *models.Usage,
	failedStage string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Host:        cfg.Storage.Host,
		StorageRoot: cfg.Storage.HostRoot(),
		Summary:     summary,
		Usage:       usage,
	}
	if runErr != nil {
		msg.FailedStage = failedStage
		msg.Err = runErr
	}

	result, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
	}
}

// postgresPreparer dumps the database before sources are resolved and adds
// the dump directory as a source.
type postgresPreparer struct {
	svc postgres.Service
	cfg models.PostgresConfig
}

func (p *postgresPreparer) Name() string {
	return "postgres:" + p.cfg.Database
}

func (p *postgresPreparer) Prepare(ctx context.Context) (string, error) {
	result, err := p.svc.Dump(ctx, p.cfg)
	if err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", result.Error
	}
	return p.cfg.DumpDir, nil
}
