package synchronizer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
)

const tempPrefix = ".gosnap-tmp-"

// NativeImpl mirrors directory trees without external tools. Files are
// considered unchanged when size, modification time and permissions match;
// everything else is copied to a temporary file and renamed into place.
type NativeImpl struct {
	logger zerolog.Logger
}

// NewNative creates a pure Go synchronizer.
func NewNative(logger zerolog.Logger) *NativeImpl {
	return &NativeImpl{logger: logger}
}

// Sync mirrors source into dest.
func (s *NativeImpl) Sync(ctx context.Context, source, dest string) (*models.SyncResult, error) {
	s.logger.Info().Str("source", source).Str("dest", dest).Msg("starting native sync")

	start := time.Now()
	result := &models.SyncResult{Source: source, Dest: dest}

	info, err := os.Stat(source)
	if err != nil {
		result.Error = fmt.Errorf("stat source: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	if !info.IsDir() {
		result.Error = fmt.Errorf("source %s is not a directory", source)
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		result.Error = fmt.Errorf("creating destination: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := s.mirrorDir(ctx, source, dest, info, result); err != nil {
		result.Error = err
	}
	result.Duration = time.Since(start)

	if result.Error == nil {
		s.logger.Info().
			Str("source", source).
			Int("files_transferred", result.FilesTransferred).
			Int64("bytes_transferred", result.BytesTransferred).
			Int("deleted", result.Deleted).
			Dur("duration", result.Duration).
			Msg("native sync completed")
	}

	return result, nil
}

func (s *NativeImpl) mirrorDir(ctx context.Context, src, dst string, srcInfo os.FileInfo, result *models.SyncResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Make sure we can write into dst while filling it.
	if err := os.Chmod(dst, srcInfo.Mode().Perm()|0o700); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}

	srcEntries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	dstEntries, err := os.ReadDir(dst)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dst, err)
	}

	wanted := make(map[string]os.FileMode, len(srcEntries))
	for _, e := range srcEntries {
		wanted[e.Name()] = e.Type().Type()
	}

	for _, e := range dstEntries {
		mode, ok := wanted[e.Name()]
		if ok && mode == e.Type().Type() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dst, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		result.Deleted++
	}

	for _, e := range srcEntries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		info, err := os.Lstat(from)
		if err != nil {
			return fmt.Errorf("stat %s: %w", from, err)
		}

		switch mode := info.Mode(); {
		case mode.IsDir():
			if err := os.Mkdir(to, mode.Perm()|0o700); err != nil && !os.IsExist(err) {
				return fmt.Errorf("creating %s: %w", to, err)
			}
			if err := s.mirrorDir(ctx, from, to, info, result); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := s.mirrorFile(from, to, info, result); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			if err := mirrorSymlink(from, to); err != nil {
				return err
			}
		default:
			s.logger.Debug().Str("path", from).Msg("skipping special file")
		}
	}

	if err := os.Chmod(dst, srcInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime())
}

func (s *NativeImpl) mirrorFile(from, to string, info os.FileInfo, result *models.SyncResult) error {
	if existing, err := os.Lstat(to); err == nil && unchanged(info, existing) {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(to), tempPrefix)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", to, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	in, err := os.Open(from) //nolint:gosec // path comes from the configured source tree
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("opening %s: %w", from, err)
	}
	n, err := io.Copy(tmp, in)
	_ = in.Close()
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copying %s: %w", from, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", to, err)
	}

	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", to, err)
	}
	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("chtimes %s: %w", to, err)
	}
	// rename breaks the hardlink instead of writing through it.
	if err := os.Rename(tmpName, to); err != nil {
		return fmt.Errorf("replacing %s: %w", to, err)
	}

	result.FilesTransferred++
	result.BytesTransferred += n
	return nil
}

func unchanged(src, dst os.FileInfo) bool {
	return dst.Mode().IsRegular() &&
		src.Size() == dst.Size() &&
		src.ModTime().Equal(dst.ModTime()) &&
		src.Mode().Perm() == dst.Mode().Perm()
}

func mirrorSymlink(from, to string) error {
	target, err := os.Readlink(from)
	if err != nil {
		return fmt.Errorf("reading link %s: %w", from, err)
	}
	if existing, err := os.Readlink(to); err == nil {
		if existing == target {
			return nil
		}
		if err := os.Remove(to); err != nil {
			return fmt.Errorf("removing %s: %w", to, err)
		}
	}
	if err := os.Symlink(target, to); err != nil {
		return fmt.Errorf("creating link %s: %w", to, err)
	}
	return nil
}
