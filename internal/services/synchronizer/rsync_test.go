package synchronizer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	executeFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, name, args...)
	}
	return []byte(""), nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

const sampleStats = `
Number of files: 1,234 (reg: 1,000, dir: 234)
Number of created files: 12 (reg: 10, dir: 2)
Number of deleted files: 3 (reg: 3)
Number of regular files transferred: 17
Total file size: 98,765,432 bytes
Total transferred file size: 1,048,576 bytes
Literal data: 1,048,576 bytes
Matched data: 0 bytes

sent 1,050,000 bytes  received 400 bytes  700,266.67 bytes/sec
total size is 98,765,432  speedup is 94.02
`

func TestRsyncArgs(t *testing.T) {
	svc := NewRsyncWithExecutor(testLogger(), models.SyncSettings{
		ExtraArgs: []string{"--exclude=.cache", "--one-file-system"},
	}, &mockExecutor{})

	args := svc.Args("/home/user", "/backup/1700000000.staged/home/user/")

	assert.Equal(t, []string{
		"-a", "--delete", "--numeric-ids", "--no-specials", "--no-devices", "--stats",
		"--exclude=.cache", "--one-file-system",
		"/home/user/", "/backup/1700000000.staged/home/user/",
	}, args)
	assert.NotContains(t, args, "--inplace")
}

func TestRsyncSync_Success(t *testing.T) {
	var capturedName string
	var capturedArgs []string

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			capturedName = name
			capturedArgs = args
			return []byte(sampleStats), nil
		},
	}

	dest := filepath.Join(t.TempDir(), "staged", "home")
	svc := NewRsyncWithExecutor(testLogger(), models.SyncSettings{RsyncPath: "/usr/bin/rsync"}, executor)

	result, err := svc.Sync(context.Background(), "/home", dest)

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.Equal(t, "/usr/bin/rsync", capturedName)
	assert.Equal(t, dest+string(filepath.Separator), capturedArgs[len(capturedArgs)-1])
	assert.Equal(t, 17, result.FilesTransferred)
	assert.Equal(t, int64(1048576), result.BytesTransferred)
	assert.Equal(t, 3, result.Deleted)
	assert.DirExists(t, dest)
}

func TestRsyncSync_Failure(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("rsync: change_dir \"/nope\" failed: No such file or directory (2)"), errors.New("exit status 23")
		},
	}

	svc := NewRsyncWithExecutor(testLogger(), models.SyncSettings{}, executor)
	result, err := svc.Sync(context.Background(), "/nope", t.TempDir())

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "exit status 23")
	assert.Contains(t, result.Error.Error(), "No such file or directory")
}

func TestRsyncSync_Timeout(t *testing.T) {
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)
			return nil, nil
		},
	}

	svc := NewRsyncWithExecutor(testLogger(), models.SyncSettings{Timeout: time.Hour}, executor)
	result, err := svc.Sync(context.Background(), "/src", t.TempDir())

	require.NoError(t, err)
	assert.Nil(t, result.Error)
}

func TestLeadingNumber(t *testing.T) {
	assert.Equal(t, int64(1234), leadingNumber(" 1,234 bytes"))
	assert.Equal(t, int64(12), leadingNumber("12 (reg: 10, dir: 2)"))
	assert.Equal(t, int64(0), leadingNumber(""))
	assert.Equal(t, int64(0), leadingNumber("n/a"))
}

func TestNew_SelectsEngine(t *testing.T) {
	svc, err := New(testLogger(), models.SyncSettings{})
	require.NoError(t, err)
	assert.IsType(t, &RsyncImpl{}, svc)

	svc, err = New(testLogger(), models.SyncSettings{Engine: models.SyncEngineNative})
	require.NoError(t, err)
	assert.IsType(t, &NativeImpl{}, svc)

	_, err = New(testLogger(), models.SyncSettings{Engine: "robocopy"})
	assert.Error(t, err)
}
