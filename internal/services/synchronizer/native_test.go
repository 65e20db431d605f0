package synchronizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func writeFileAt(t *testing.T, path, content string, perm os.FileMode, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestNativeSync_MirrorsTree(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "dest")

	writeFileAt(t, filepath.Join(src, "a.txt"), "alpha", 0o644, baseTime)
	writeFileAt(t, filepath.Join(src, "sub/b.sh"), "#!/bin/sh", 0o755, baseTime.Add(time.Hour))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty"), 0o750))

	svc := NewNative(testLogger())
	result, err := svc.Sync(context.Background(), src, dest)

	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, 2, result.FilesTransferred)
	assert.Equal(t, int64(len("alpha")+len("#!/bin/sh")), result.BytesTransferred)

	assert.Equal(t, "alpha", readFile(t, filepath.Join(dest, "a.txt")))
	assert.Equal(t, "#!/bin/sh", readFile(t, filepath.Join(dest, "sub/b.sh")))

	info, err := os.Stat(filepath.Join(dest, "sub/b.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(baseTime.Add(time.Hour)))

	target, err := os.Readlink(filepath.Join(dest, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", target)

	info, err = os.Stat(filepath.Join(dest, "empty"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
}

func TestNativeSync_PropagatesDeletionsAndTypeChanges(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	writeFileAt(t, filepath.Join(src, "keep"), "keep", 0o644, baseTime)
	writeFileAt(t, filepath.Join(src, "was-dir"), "now a file", 0o644, baseTime)

	writeFileAt(t, filepath.Join(dest, "keep"), "keep", 0o644, baseTime)
	writeFileAt(t, filepath.Join(dest, "gone.txt"), "bye", 0o644, baseTime)
	writeFileAt(t, filepath.Join(dest, "gone-dir/x"), "x", 0o644, baseTime)
	writeFileAt(t, filepath.Join(dest, "was-dir/y"), "y", 0o644, baseTime)

	svc := NewNative(testLogger())
	result, err := svc.Sync(context.Background(), src, dest)

	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, 3, result.Deleted)
	assert.Equal(t, 1, result.FilesTransferred)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"keep", "was-dir"}, names)
	assert.Equal(t, "now a file", readFile(t, filepath.Join(dest, "was-dir")))
}

func TestNativeSync_BreaksHardlinkOnChange(t *testing.T) {
	src := t.TempDir()
	previous := t.TempDir()
	staged := t.TempDir()

	// previous snapshot and the staged clone share inodes
	writeFileAt(t, filepath.Join(previous, "changed"), "old content", 0o644, baseTime)
	writeFileAt(t, filepath.Join(previous, "same"), "same content", 0o644, baseTime)
	require.NoError(t, os.Link(filepath.Join(previous, "changed"), filepath.Join(staged, "changed")))
	require.NoError(t, os.Link(filepath.Join(previous, "same"), filepath.Join(staged, "same")))

	writeFileAt(t, filepath.Join(src, "changed"), "new content", 0o644, baseTime.Add(time.Minute))
	writeFileAt(t, filepath.Join(src, "same"), "same content", 0o644, baseTime)

	svc := NewNative(testLogger())
	result, err := svc.Sync(context.Background(), src, staged)

	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, 1, result.FilesTransferred)

	assert.Equal(t, "new content", readFile(t, filepath.Join(staged, "changed")))
	assert.Equal(t, "old content", readFile(t, filepath.Join(previous, "changed")))

	prevChanged, _, err := storage.LinkInfo(filepath.Join(previous, "changed"))
	require.NoError(t, err)
	stagedChanged, _, err := storage.LinkInfo(filepath.Join(staged, "changed"))
	require.NoError(t, err)
	assert.NotEqual(t, prevChanged, stagedChanged)

	prevSame, _, err := storage.LinkInfo(filepath.Join(previous, "same"))
	require.NoError(t, err)
	stagedSame, nlink, err := storage.LinkInfo(filepath.Join(staged, "same"))
	require.NoError(t, err)
	assert.Equal(t, prevSame, stagedSame)
	assert.Equal(t, uint64(2), nlink)
}

func TestNativeSync_PermissionChangeReplacesFile(t *testing.T) {
	src := t.TempDir()
	previous := t.TempDir()
	staged := t.TempDir()

	writeFileAt(t, filepath.Join(previous, "script"), "echo", 0o644, baseTime)
	require.NoError(t, os.Link(filepath.Join(previous, "script"), filepath.Join(staged, "script")))
	writeFileAt(t, filepath.Join(src, "script"), "echo", 0o755, baseTime)

	_, err := NewNative(testLogger()).Sync(context.Background(), src, staged)
	require.NoError(t, err)

	prev, err := os.Stat(filepath.Join(previous, "script"))
	require.NoError(t, err)
	cur, err := os.Stat(filepath.Join(staged, "script"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), prev.Mode().Perm())
	assert.Equal(t, os.FileMode(0o755), cur.Mode().Perm())
}

func TestNativeSync_SourceMissing(t *testing.T) {
	result, err := NewNative(testLogger()).Sync(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())

	require.NoError(t, err)
	assert.Error(t, result.Error)
}

func TestNativeSync_ContextCancelled(t *testing.T) {
	src := t.TempDir()
	writeFileAt(t, filepath.Join(src, "a"), "a", 0o644, baseTime)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewNative(testLogger()).Sync(ctx, src, t.TempDir())

	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, context.Canceled)
}
