// Package postgres dumps a PostgreSQL database into a directory that is
// backed up as an additional snapshot source.
package postgres

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
)

// PostgreSQL dump format constants.
const (
	FormatCustom = "custom"
	FormatPlain  = "plain"
	FormatTar    = "tar"
)

// Service defines the interface for PostgreSQL dump operations.
type Service interface {
	Dump(ctx context.Context, cfg models.PostgresConfig) (*models.PostgresDumpResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs pg_dump and writes its stdout to outputPath. Stderr is
// included in the returned error.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	output, err := os.Create(outputPath) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = output.Close() }()

	var stderr bytes.Buffer
	cmd.Stdout = output
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("pg_dump failed: %w: %s", err, msg)
		}
		return fmt.Errorf("pg_dump failed: %w", err)
	}

	return output.Sync()
}

// Impl implements the PostgreSQL Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new PostgreSQL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new PostgreSQL service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Dump writes the database to DumpDir/OutputFilename. The dump goes to a
// temporary file first so a failed pg_dump keeps the previous dump intact.
func (s *Impl) Dump(ctx context.Context, cfg models.PostgresConfig) (*models.PostgresDumpResult, error) {
	outputPath := filepath.Join(cfg.DumpDir, OutputFilename(cfg))
	tmpPath := outputPath + ".partial"

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("format", cfg.Format).
		Str("output", outputPath).
		Msg("starting PostgreSQL dump")

	start := time.Now()
	result := &models.PostgresDumpResult{
		OutputPath: outputPath,
	}

	if err := os.MkdirAll(cfg.DumpDir, 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create dump directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	env := []string{}
	if cfg.Password != "" {
		env = append(env, fmt.Sprintf("PGPASSWORD=%s", cfg.Password))
	}

	if execErr := s.executor.ExecuteWithEnv(ctx, env, tmpPath, "pg_dump", BuildArgs(cfg)...); execErr != nil {
		_ = os.Remove(tmpPath)
		result.Error = execErr
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is reported in the result
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		result.Error = fmt.Errorf("failed to move dump into place: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("PostgreSQL dump completed")

	return result, nil
}

// BuildArgs returns the pg_dump arguments for cfg.
func BuildArgs(cfg models.PostgresConfig) []string {
	args := []string{
		"-h", cfg.Host,
		"-p", strconv.Itoa(cfg.Port),
		"-U", cfg.Username,
		"-d", cfg.Database,
	}

	switch cfg.Format {
	case FormatPlain:
		args = append(args, "-Fp")
	case FormatTar:
		args = append(args, "-Ft")
	default:
		args = append(args, "-Fc")
	}

	return args
}

// OutputFilename returns the dump file name, which is the same on every run.
func OutputFilename(cfg models.PostgresConfig) string {
	ext := "dump"
	switch cfg.Format {
	case FormatPlain:
		ext = "sql"
	case FormatTar:
		ext = FormatTar
	}
	return fmt.Sprintf("%s.%s", cfg.Database, ext)
}
