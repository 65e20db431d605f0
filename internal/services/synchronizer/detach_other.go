//go:build !unix

package synchronizer

// detachMetadataChanges is a no-op where files carry no POSIX owner.
func detachMetadataChanges(_, _ string) (int, error) {
	return 0, nil
}
