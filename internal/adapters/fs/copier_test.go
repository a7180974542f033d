package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/blazinghq/kiln/internal/adapters/fs"
	"github.com/blazinghq/kiln/internal/core/domain"
)

func TestCopier_CopyTree(t *testing.T) {
	t.Run("directory tree", func(t *testing.T) {
		src := t.TempDir()
		dst := filepath.Join(t.TempDir(), "out")

		require.NoError(t, os.MkdirAll(filepath.Join(src, "app", "blazing"), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(src, "app", "blazing", "main.py"), []byte("app = 1"), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(src, "pyproject.toml"), []byte("[project]"), 0o644))

		copier := fs.NewCopier()
		require.NoError(t, copier.CopyTree(src, dst))

		data, err := os.ReadFile(filepath.Join(dst, "app", "blazing", "main.py"))
		require.NoError(t, err)
		assert.Equal(t, "app = 1", string(data))

		data, err = os.ReadFile(filepath.Join(dst, "pyproject.toml"))
		require.NoError(t, err)
		assert.Equal(t, "[project]", string(data))
	})

	t.Run("preserves permissions", func(t *testing.T) {
		src := t.TempDir()
		dst := filepath.Join(t.TempDir(), "out")

		require.NoError(t, os.WriteFile(filepath.Join(src, "entry.sh"), []byte("#!/bin/sh"), 0o750))

		copier := fs.NewCopier()
		require.NoError(t, copier.CopyTree(src, dst))

		info, err := os.Stat(filepath.Join(dst, "entry.sh"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	})

	t.Run("single file", func(t *testing.T) {
		src := t.TempDir()
		dst := filepath.Join(t.TempDir(), "nested", "uv.lock")

		require.NoError(t, os.WriteFile(filepath.Join(src, "uv.lock"), []byte("lock"), 0o600))

		copier := fs.NewCopier()
		require.NoError(t, copier.CopyTree(filepath.Join(src, "uv.lock"), dst))

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "lock", string(data))
	})

	t.Run("symlinks recreated", func(t *testing.T) {
		src := t.TempDir()
		dst := filepath.Join(t.TempDir(), "out")

		require.NoError(t, os.WriteFile(filepath.Join(src, "python3.12"), []byte("elf"), 0o750))
		require.NoError(t, os.Symlink("python3.12", filepath.Join(src, "python")))

		copier := fs.NewCopier()
		require.NoError(t, copier.CopyTree(src, dst))

		link, err := os.Readlink(filepath.Join(dst, "python"))
		require.NoError(t, err)
		assert.Equal(t, "python3.12", link)
	})

	t.Run("missing source", func(t *testing.T) {
		copier := fs.NewCopier()
		err := copier.CopyTree(filepath.Join(t.TempDir(), "missing"), t.TempDir())
		require.Error(t, err)
		assert.ErrorContains(t, err, domain.ErrPathStatFailed.Error())
	})
}
