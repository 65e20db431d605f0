//go:build unix

package synchronizer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// detachMetadataChanges gives every file under dest that is still shared
// with another snapshot, and whose source counterpart differs only in mode
// or owner, an inode of its own. rsync fixes such attributes with chmod and
// chown on the existing file, which would rewrite the older snapshot too.
// It returns the number of detached files.
func detachMetadataChanges(source, dest string) (int, error) {
	detached := 0
	err := filepath.WalkDir(dest, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		var dst unix.Stat_t
		if err := unix.Lstat(path, &dst); err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if dst.Nlink < 2 {
			return nil
		}

		rel, err := filepath.Rel(dest, path)
		if err != nil {
			return err
		}
		var src unix.Stat_t
		if err := unix.Lstat(filepath.Join(source, rel), &src); err != nil {
			if errors.Is(err, unix.ENOENT) {
				return nil
			}
			return fmt.Errorf("stat %s: %w", filepath.Join(source, rel), err)
		}
		if src.Mode&unix.S_IFMT != unix.S_IFREG {
			return nil
		}
		if src.Mode&0o7777 == dst.Mode&0o7777 && src.Uid == dst.Uid && src.Gid == dst.Gid {
			return nil
		}

		if err := copyReplace(path); err != nil {
			return err
		}
		detached++
		return nil
	})
	return detached, err
}

// copyReplace swaps path for a private copy with the same content, mode
// and modification time.
func copyReplace(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tempPrefix)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	in, err := os.Open(path) //nolint:gosec // path lies inside the staged snapshot
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("opening %s: %w", path, err)
	}
	_, err = io.Copy(tmp, in)
	_ = in.Close()
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copying %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}

	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("chtimes %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
