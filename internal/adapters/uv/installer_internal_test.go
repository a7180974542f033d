package uv

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"github.com/blazinghq/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

// stubBinary writes a shell script standing in for the uv binary and returns
// its path. The script records its arguments and relevant environment to
// recordFile before exiting with the given code.
func stubBinary(t *testing.T, recordFile string, exitCode int, stderr string) string {
	t.Helper()

	script := "#!/bin/sh\n" +
		"echo \"$@\" > " + recordFile + "\n" +
		"env | grep '^UV_' >> " + recordFile + " || true\n"
	if stderr != "" {
		script += "echo '" + stderr + "' >&2\n"
	}
	if exitCode != 0 {
		script += "exit " + strconv.Itoa(exitCode) + "\n"
	}

	path := filepath.Join(t.TempDir(), "uv")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o750))
	return path
}

func newTestInstaller(t *testing.T, binary string) *Installer {
	t.Helper()

	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()

	inst := NewInstaller(log)
	inst.binary = binary
	return inst
}

func TestInstaller_Check(t *testing.T) {
	t.Run("lock in sync", func(t *testing.T) {
		record := filepath.Join(t.TempDir(), "args")
		inst := newTestInstaller(t, stubBinary(t, record, 0, ""))

		err := inst.Check(context.Background(), t.TempDir())
		require.NoError(t, err)

		data, err := os.ReadFile(record)
		require.NoError(t, err)
		assert.Contains(t, string(data), "lock --check")
	})

	t.Run("lock drift", func(t *testing.T) {
		record := filepath.Join(t.TempDir(), "args")
		inst := newTestInstaller(t, stubBinary(t, record, 1, "The lockfile is outdated"))

		err := inst.Check(context.Background(), t.TempDir())
		require.Error(t, err)
		assert.ErrorContains(t, err, domain.ErrLockDrift.Error())
	})

	t.Run("binary missing", func(t *testing.T) {
		inst := newTestInstaller(t, filepath.Join(t.TempDir(), "no-such-uv"))

		err := inst.Check(context.Background(), t.TempDir())
		require.Error(t, err)
		assert.NotContains(t, err.Error(), domain.ErrLockDrift.Error())
	})
}

func TestInstaller_Sync(t *testing.T) {
	t.Run("production excludes dev group", func(t *testing.T) {
		record := filepath.Join(t.TempDir(), "args")
		inst := newTestInstaller(t, stubBinary(t, record, 0, ""))

		err := inst.Sync(context.Background(), ports.SyncOptions{
			EnvDir:          "/build/app/.venv",
			WorkDir:         t.TempDir(),
			CacheDir:        "/cache/uv",
			CompileBytecode: true,
		})
		require.NoError(t, err)

		data, err := os.ReadFile(record)
		require.NoError(t, err)
		out := string(data)

		assert.Contains(t, out, "sync --frozen --no-install-project --no-dev")
		assert.Contains(t, out, "UV_PROJECT_ENVIRONMENT=/build/app/.venv")
		assert.Contains(t, out, "UV_CACHE_DIR=/cache/uv")
		assert.Contains(t, out, "UV_COMPILE_BYTECODE=1")
	})

	t.Run("dev includes dev group", func(t *testing.T) {
		record := filepath.Join(t.TempDir(), "args")
		inst := newTestInstaller(t, stubBinary(t, record, 0, ""))

		err := inst.Sync(context.Background(), ports.SyncOptions{
			EnvDir:  "/build/app/.venv",
			WorkDir: t.TempDir(),
			Dev:     true,
		})
		require.NoError(t, err)

		data, err := os.ReadFile(record)
		require.NoError(t, err)
		out := string(data)

		assert.NotContains(t, out, "--no-dev")
		assert.NotContains(t, out, "UV_CACHE_DIR=", "Empty cache dir must not be exported")
	})

	t.Run("sync failure carries resolver output", func(t *testing.T) {
		record := filepath.Join(t.TempDir(), "args")
		inst := newTestInstaller(t, stubBinary(t, record, 2, "No solution found"))

		err := inst.Sync(context.Background(), ports.SyncOptions{
			EnvDir:  "/build/app/.venv",
			WorkDir: t.TempDir(),
		})
		require.Error(t, err)
		assert.ErrorContains(t, err, domain.ErrSyncFailed.Error())
	})
}
