package models

import "time"

// RunSummary is the result value of a completed run.
type RunSummary struct {
	RunID       string
	SnapshotID  int64
	Previous    int64 // zero on a first run
	Sources     []SourceMount
	Retained    []string // current snapshots after retention, including this one
	Outdated    []string
	Unparseable []string
	Failures    []RemovalFailure
	StartTime   time.Time
	Duration    time.Duration
}

// OutdatedCount is the number of snapshots removed by retention.
func (s RunSummary) OutdatedCount() int { return len(s.Outdated) }

// UnparseableCount is the number of entries whose age could not be determined.
func (s RunSummary) UnparseableCount() int { return len(s.Unparseable) }

// Run stages.
const (
	StageConsistency = "consistency"
	StageResolve     = "resolve"
	StageClone       = "clone"
	StageSync        = "sync"
	StageCommit      = "commit"
	StageRetention   = "retention"
)

// EventStatus is the status carried by a lifecycle event.
type EventStatus string

// Event statuses.
const (
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// Event is a structured lifecycle event emitted by the pipeline.
type Event struct {
	RunID       string
	Stage       string
	Status      EventStatus
	SnapshotID  int64
	// Path is the staged or finished snapshot directory, once known.
	Path        string
	Source      string
	Err         error
	Outdated    []string
	Unparseable []string
	Failures    []RemovalFailure
	Time        time.Time
}
