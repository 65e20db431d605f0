// Package events renders the lifecycle events emitted by the snapshot
// pipeline.
package events

import (
	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Sink accepts pipeline events.
type Sink interface {
	Emit(ev models.Event)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit logs ev. Failures are logged at error level, starts at debug level.
func (s *LogSink) Emit(ev models.Event) {
	var e *zerolog.Event
	switch ev.Status {
	case models.EventFailed:
		e = s.logger.Error().Err(ev.Err)
	case models.EventStarted:
		e = s.logger.Debug()
	default:
		e = s.logger.Info()
	}

	e = e.Str("run_id", ev.RunID).
		Str("stage", ev.Stage).
		Str("status", string(ev.Status))

	if ev.SnapshotID != 0 {
		e = e.Int64("snapshot_id", ev.SnapshotID)
	}
	if ev.Path != "" {
		e = e.Str("path", ev.Path)
	}
	if ev.Source != "" {
		e = e.Str("source", ev.Source)
	}
	if len(ev.Outdated) > 0 {
		e = e.Strs("outdated", ev.Outdated)
	}
	if len(ev.Unparseable) > 0 {
		e = e.Strs("unparseable", ev.Unparseable)
	}
	if len(ev.Failures) > 0 {
		names := make([]string, len(ev.Failures))
		for i, f := range ev.Failures {
			names[i] = f.Name
		}
		e = e.Strs("removal_failures", names)
	}

	e.Msg("stage " + string(ev.Status))
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Emit forwards ev to every sink.
func (m MultiSink) Emit(ev models.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
