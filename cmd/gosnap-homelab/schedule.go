package main

import (
	"errors"

	"github.com/fgeck/gosnap-homelab/internal/services/runner"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Take snapshots on the configured cron schedule",
	Long: `Stay in the foreground and take a snapshot every time the cron
expression in "schedule" fires. A tick is skipped while the previous
snapshot is still running.`,
	RunE: runSchedule,
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Schedule == "" {
		log.Error().Msg("schedule is not configured")
		return errors.New("schedule is required for the schedule command")
	}

	ctx, cancel := signalContext()
	defer cancel()

	clog := cronLogger{logger: log.Logger}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))

	svc := runner.New(log.Logger)
	_, err = c.AddFunc(cfg.Schedule, func() {
		summary, err := runLocked(ctx, svc, *cfg)
		if err != nil {
			log.Error().Err(err).Msg("scheduled snapshot failed")
			return
		}
		printSummary(summary)
	})
	if err != nil {
		log.Error().Err(err).Str("schedule", cfg.Schedule).Msg("invalid schedule")
		return err
	}

	log.Info().Str("schedule", cfg.Schedule).Msg("scheduler started")
	c.Start()

	<-ctx.Done()

	log.Info().Msg("waiting for running snapshot to finish")
	<-c.Stop().Done()
	return nil
}
