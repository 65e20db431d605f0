package synchronizer

import (
	"bufio"
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

// Base rsync flags. -a preserves times and permissions, --delete gives
// mirror semantics. --inplace must never be added: it would rewrite files
// that are still hardlinked into older snapshots. Attribute-only changes
// are applied in place by rsync, so Sync detaches those files first.
var rsyncBaseArgs = []string{
	"-a",
	"--delete",
	"--numeric-ids",
	"--no-specials",
	"--no-devices",
	"--stats",
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// RsyncImpl synchronizes with an rsync binary. Files whose mode or owner
// changed at the source are copied out of the previous snapshot before
// rsync runs, since rsync would chmod or chown the shared inode.
type RsyncImpl struct {
	executor  CommandExecutor
	logger    zerolog.Logger
	binary    string
	extraArgs []string
	timeout   time.Duration
}

// NewRsync creates an rsync based synchronizer.
func NewRsync(logger zerolog.Logger, settings models.SyncSettings) *RsyncImpl {
	return NewRsyncWithExecutor(logger, settings, &DefaultExecutor{})
}

// NewRsyncWithExecutor creates an rsync synchronizer with a custom executor (for testing).
func NewRsyncWithExecutor(logger zerolog.Logger, settings models.SyncSettings, executor CommandExecutor) *RsyncImpl {
	binary := settings.RsyncPath
	if binary == "" {
		binary = "rsync"
	}
	return &RsyncImpl{
		executor:  executor,
		logger:    logger,
		binary:    binary,
		extraArgs: settings.ExtraArgs,
		timeout:   settings.Timeout,
	}
}

// Args returns the rsync arguments used to mirror source into dest.
func (s *RsyncImpl) Args(source, dest string) []string {
	args := make([]string, 0, len(rsyncBaseArgs)+len(s.extraArgs)+2)
	args = append(args, rsyncBaseArgs...)
	args = append(args, s.extraArgs...)
	// Trailing separators make rsync copy the contents, not the directory.
	args = append(args, withTrailingSep(source), withTrailingSep(dest))
	return args
}

// Sync mirrors source into dest with rsync.
func (s *RsyncImpl) Sync(ctx context.Context, source, dest string) (*models.SyncResult, error) {
	s.logger.Info().Str("source", source).Str("dest", dest).Msg("starting rsync")

	start := time.Now()
	result := &models.SyncResult{Source: source, Dest: dest}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		result.Error = fmt.Errorf("creating destination: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	detached, err := detachMetadataChanges(source, dest)
	if err != nil {
		result.Error = fmt.Errorf("detaching shared files: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	if detached > 0 {
		s.logger.Debug().Int("files", detached).Msg("detached shared files with changed mode or owner")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	output, err := s.executor.Execute(ctx, s.binary, s.Args(source, dest)...)
	result.Output = string(output)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Errorf("rsync failed: %w, output: %s", err, strings.TrimSpace(string(output)))
		return result, nil
	}

	parseStats(output, result)

	s.logger.Info().
		Str("source", source).
		Int("files_transferred", result.FilesTransferred).
		Int64("bytes_transferred", result.BytesTransferred).
		Int("deleted", result.Deleted).
		Dur("duration", result.Duration).
		Msg("rsync completed")

	return result, nil
}

// parseStats reads the --stats block printed by rsync. Unknown lines are
// ignored so older rsync versions still work.
func parseStats(output []byte, result *models.SyncResult) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "Number of regular files transferred":
			result.FilesTransferred = int(leadingNumber(value))
		case "Total transferred file size":
			result.BytesTransferred = leadingNumber(value)
		case "Number of deleted files":
			result.Deleted = int(leadingNumber(value))
		}
	}
}

// leadingNumber parses "1,234 bytes" or " 12 (reg: 10, dir: 2)" into 1234 or 12.
func leadingNumber(s string) int64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(fields[0], ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func withTrailingSep(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return p
	}
	return p + string(filepath.Separator)
}
