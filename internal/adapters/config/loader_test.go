package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blazinghq/kiln/internal/adapters/config"
	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const fullKilnfile = `
version: "1"
source: src
stages:
  base:
    from: python-slim
    steps:
      - run: ["apk", "add", "curl"]
        bestEffort: true
  builder:
    from: base
    steps:
      - workingDir: /app
      - copy:
          src: pyproject.toml
      - copy:
          src: uv.lock
          dst: /app/uv.lock
      - sync: {}
  dev:
    from: base
    env:
      BLAZING_ENV: development
    steps:
      - workingDir: /app
      - copy:
          src: .venv
          from: builder
      - copy:
          src: src
      - sync:
          dev: true
    entry:
      cmd: ["python", "-m", "uvicorn", "blazing.main:app"]
      reload: true
  prod:
    from: base
    steps:
      - workingDir: /app
      - copy:
          src: .venv
          from: builder
      - copy:
          src: src
      - expose: 8000
    entry:
      cmd: ["python", "-m", "uvicorn", "blazing.main:app"]
      host: 127.0.0.1
      port: 8080
    identity:
      user: blazing
      uid: 10001
      gid: 10001
`

func newTestLoader(t *testing.T) *config.Loader {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Warn(gomock.Any()).AnyTimes()
	return config.NewLoader(mockLogger)
}

// createWorkspace lays out a root with a descriptor and the default
// manifest, lock and source files.
func createWorkspace(t *testing.T, descriptor string) string {
	t.Helper()
	root := t.TempDir()
	createFile(t, root, domain.KilnFileName, descriptor)
	createFile(t, root, "pyproject.toml", "[project]\nname = \"blazing\"\n")
	createFile(t, root, "uv.lock", "version = 1\n")
	require.NoError(t, os.Mkdir(filepath.Join(root, "src"), domain.DirPerm))
	return root
}

func createFile(t *testing.T, dir, name, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte(content), domain.FilePerm)
	require.NoError(t, err)
}

func TestLoader_Load(t *testing.T) {
	loader := newTestLoader(t)
	root := createWorkspace(t, fullKilnfile)

	p, err := loader.Load(root)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, 4, p.StageCount())
	assert.Equal(t, "pyproject.toml", p.Manifest())
	assert.Equal(t, "uv.lock", p.Lockfile())
	assert.Equal(t, "src", p.Source())

	base, ok := p.GetStage("base")
	require.True(t, ok)
	assert.Equal(t, "python-slim", base.From)
	require.Len(t, base.Instructions, 1)
	assert.Equal(t, domain.KindRun, base.Instructions[0].Kind)
	assert.True(t, base.Instructions[0].BestEffort)

	builder, ok := p.GetStage("builder")
	require.True(t, ok)
	assert.Equal(t, "base", builder.From)
	// Copy without dst defaults to its src.
	assert.Equal(t, "pyproject.toml", builder.Instructions[1].Dst)
	assert.Equal(t, "/app/uv.lock", builder.Instructions[2].Dst)
	assert.Equal(t, domain.KindSync, builder.Instructions[3].Kind)
	assert.False(t, builder.Instructions[3].Dev)

	dev, ok := p.GetStage("dev")
	require.True(t, ok)
	assert.Equal(t, []string{"builder"}, dev.CopyFrom)
	// Stage env leads the instruction list.
	assert.Equal(t, domain.KindEnv, dev.Instructions[0].Kind)
	assert.Equal(t, "BLAZING_ENV", dev.Instructions[0].Key)
	require.NotNil(t, dev.Entry)
	assert.True(t, dev.Entry.Reload)
	assert.Equal(t, "0.0.0.0", dev.Entry.Host)
	assert.Equal(t, 8000, dev.Entry.Port)

	prod, ok := p.GetStage("prod")
	require.True(t, ok)
	require.NotNil(t, prod.Entry)
	assert.Equal(t, "127.0.0.1", prod.Entry.Host)
	assert.Equal(t, 8080, prod.Entry.Port)
	assert.False(t, prod.Entry.Reload)
	require.NotNil(t, prod.Identity)
	assert.Equal(t, "blazing", prod.Identity.User)
	assert.Equal(t, 10001, prod.Identity.UID)
	assert.False(t, prod.Identity.IsRoot())
}

func TestLoader_Load_RuntimeDefaults(t *testing.T) {
	loader := newTestLoader(t)
	root := createWorkspace(t, fullKilnfile)

	p, err := loader.Load(root)
	require.NoError(t, err)

	rt := p.Runtime()
	assert.True(t, rt.UnbufferedOutput)
	assert.True(t, rt.CompileBytecode)
	assert.Equal(t, filepath.Join(p.Root(), domain.DefaultInstallerCachePath()), p.CacheDir())
}

func TestLoader_Load_RuntimeOverrides(t *testing.T) {
	loader := newTestLoader(t)
	root := createWorkspace(t, `
version: "1"
runtime:
  unbuffered: false
  compileBytecode: false
stages:
  base:
    steps:
      - run: ["true"]
`)

	p, err := loader.Load(root)
	require.NoError(t, err)

	rt := p.Runtime()
	assert.False(t, rt.UnbufferedOutput)
	assert.False(t, rt.CompileBytecode)
}

func TestLoader_DiscoverRoot(t *testing.T) {
	t.Run("finds descriptor in parent", func(t *testing.T) {
		loader := newTestLoader(t)
		root := createWorkspace(t, fullKilnfile)

		nested := filepath.Join(root, "src", "blazing")
		require.NoError(t, os.MkdirAll(nested, domain.DirPerm))

		found, err := loader.DiscoverRoot(nested)
		require.NoError(t, err)
		assert.Equal(t, root, found)
	})

	t.Run("returns error when missing", func(t *testing.T) {
		loader := newTestLoader(t)

		// NOTE: errors.Is might fail here if zerr wraps, so check message.
		_, err := loader.DiscoverRoot(t.TempDir())
		require.Error(t, err)
		assert.ErrorContains(t, err, domain.ErrConfigNotFound.Error())
	})
}

func TestLoader_Load_InvalidStageName(t *testing.T) {
	loader := newTestLoader(t)
	root := createWorkspace(t, `
version: "1"
stages:
  "bad stage":
    steps:
      - run: ["true"]
`)

	_, err := loader.Load(root)
	require.Error(t, err)
	assert.ErrorContains(t, err, domain.ErrInvalidStageName.Error())
}

func TestLoader_Load_UnknownCopyFrom(t *testing.T) {
	loader := newTestLoader(t)
	root := createWorkspace(t, `
version: "1"
stages:
  dev:
    steps:
      - copy:
          src: .venv
          from: ghost
`)

	_, err := loader.Load(root)
	require.Error(t, err)
	assert.ErrorContains(t, err, domain.ErrStageNotFound.Error())
}

func TestLoader_Load_CycleDetected(t *testing.T) {
	loader := newTestLoader(t)
	root := createWorkspace(t, `
version: "1"
stages:
  a:
    from: b
    steps:
      - run: ["true"]
  b:
    from: a
    steps:
      - run: ["true"]
`)

	_, err := loader.Load(root)
	require.Error(t, err)
	assert.ErrorContains(t, err, domain.ErrCycleDetected.Error())
}

func TestLoader_Load_MissingLockInputs(t *testing.T) {
	t.Run("missing manifest", func(t *testing.T) {
		loader := newTestLoader(t)
		root := createWorkspace(t, fullKilnfile)
		require.NoError(t, os.Remove(filepath.Join(root, "pyproject.toml")))

		_, err := loader.Load(root)
		require.Error(t, err)
		assert.ErrorContains(t, err, domain.ErrManifestMissing.Error())
	})

	t.Run("missing lock file", func(t *testing.T) {
		loader := newTestLoader(t)
		root := createWorkspace(t, fullKilnfile)
		require.NoError(t, os.Remove(filepath.Join(root, "uv.lock")))

		_, err := loader.Load(root)
		require.Error(t, err)
		assert.ErrorContains(t, err, domain.ErrLockfileMissing.Error())
	})

	t.Run("no sync stage skips the check", func(t *testing.T) {
		loader := newTestLoader(t)
		root := createWorkspace(t, `
version: "1"
stages:
  base:
    steps:
      - run: ["true"]
`)
		require.NoError(t, os.Remove(filepath.Join(root, "pyproject.toml")))
		require.NoError(t, os.Remove(filepath.Join(root, "uv.lock")))

		_, err := loader.Load(root)
		assert.NoError(t, err)
	})
}

func TestLoader_Load_ParseFailure(t *testing.T) {
	loader := newTestLoader(t)
	root := t.TempDir()
	createFile(t, root, domain.KilnFileName, "stages: [not: a: map\n")

	_, err := loader.Load(root)
	require.Error(t, err)
	assert.ErrorContains(t, err, domain.ErrConfigParseFailed.Error())
}
