// Package uv wraps the uv resolver for exact-version dependency installs.
package uv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Installer = (*Installer)(nil)

// Installer implements ports.Installer by shelling out to the uv binary.
type Installer struct {
	binary string
	logger ports.Logger
}

// NewInstaller creates a new uv-backed Installer.
func NewInstaller(logger ports.Logger) *Installer {
	return &Installer{
		binary: "uv",
		logger: logger,
	}
}

// Check verifies the lock file still matches the manifest. A resolver exit
// failure means the lock has drifted and the build must abort before any
// dependency is installed.
func (i *Installer) Check(ctx context.Context, workDir string) error {
	var stderr bytes.Buffer
	//nolint:gosec // Fixed binary name, fixed arguments
	cmd := exec.CommandContext(ctx, i.binary, "lock", "--check")
	cmd.Dir = workDir
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return zerr.With(domain.ErrLockDrift, "output", strings.TrimSpace(stderr.String()))
		}
		return zerr.Wrap(err, "failed to run uv lock --check")
	}
	return nil
}

// Sync deterministically installs the locked dependency set into the
// environment directory. The project's own package is never installed, so
// the environment depends only on the manifest and lock inputs.
func (i *Installer) Sync(ctx context.Context, opts ports.SyncOptions) error {
	args := []string{"sync", "--frozen", "--no-install-project"}
	if !opts.Dev {
		args = append(args, "--no-dev")
	}

	env := append(os.Environ(), "UV_PROJECT_ENVIRONMENT="+opts.EnvDir)
	if opts.CacheDir != "" {
		env = append(env, "UV_CACHE_DIR="+opts.CacheDir)
	}
	if opts.CompileBytecode {
		env = append(env, "UV_COMPILE_BYTECODE=1")
	}

	var stderr bytes.Buffer
	//nolint:gosec // Fixed binary name, arguments derived from validated options
	cmd := exec.CommandContext(ctx, i.binary, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = env
	cmd.Stderr = &stderr

	i.logger.Info(fmt.Sprintf("syncing dependencies into %s", opts.EnvDir))

	if err := cmd.Run(); err != nil {
		return zerr.With(
			zerr.Wrap(err, domain.ErrSyncFailed.Error()),
			"output", strings.TrimSpace(stderr.String()),
		)
	}
	return nil
}
