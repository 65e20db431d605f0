//go:build unix

package storage

import (
	"golang.org/x/sys/unix"
)

// LinkInfo returns the inode number and hardlink count of path without
// following symlinks.
func LinkInfo(path string) (ino uint64, nlink uint64, err error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Ino), uint64(st.Nlink), nil //nolint:unconvert // field widths differ per platform
}
