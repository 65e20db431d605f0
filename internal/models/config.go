// Package models contains the data structures used throughout gosnap-homelab.
package models

import (
	"path/filepath"
	"time"
)

// Config holds the complete configuration for a snapshot run.
type Config struct {
	Storage     StorageSettings
	Sources     []string
	Retention   RetentionPolicy
	Sync        SyncSettings
	Lock        LockSettings
	Metrics     MetricsSettings
	Schedule    string             // cron expression, only used by the schedule command
	WOL         *WOLConfig         // nil if not configured
	Postgres    *PostgresConfig    // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured
}

// StorageSettings describes where snapshots are stored.
type StorageSettings struct {
	Root string
	Host string // namespaces Root per machine
}

// HostRoot returns the per-machine storage root that holds the snapshots.
func (s StorageSettings) HostRoot() string {
	if s.Host == "" {
		return s.Root
	}
	return filepath.Join(s.Root, s.Host)
}

// RetentionPolicy defines how long finished snapshots are kept.
type RetentionPolicy struct {
	MaxAgeDays int
	// Keep is a snapshot id that is never removed, normally the one the
	// current run just committed. Zero keeps nothing extra.
	Keep       int64
}

// MaxAge returns the retention window as a duration.
func (p RetentionPolicy) MaxAge() time.Duration {
	return time.Duration(p.MaxAgeDays) * 24 * time.Hour
}

// Synchronizer engines.
const (
	SyncEngineRsync  = "rsync"
	SyncEngineNative = "native"
)

// SyncSettings configures the synchronizer used to mirror sources.
type SyncSettings struct {
	Engine    string
	RsyncPath string
	ExtraArgs []string
	Timeout   time.Duration // per source, 0 disables
	Parallel  bool          // only honoured when destinations are disjoint
}

// LockSettings configures the run lock held by the commands around a run.
type LockSettings struct {
	Enabled bool
	Timeout time.Duration
}

// MetricsSettings configures the Prometheus textfile export.
type MetricsSettings struct {
	Textfile string // empty disables
}
