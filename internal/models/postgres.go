package models

import "time"

// PostgresConfig holds the pg_dump settings for a database that is dumped
// into DumpDir before the snapshot and backed up as an extra source.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Format   string // "custom" (default), "plain", "tar"
	DumpDir  string
}

// PostgresDumpResult holds the result of a pg_dump operation.
type PostgresDumpResult struct {
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}
