//go:build !linux

package storage

import "errors"

// FreeBytes is only implemented on Linux.
func FreeBytes(string) (uint64, error) {
	return 0, errors.New("free space is not reported on this platform")
}
