// Package ports defines the core interfaces for the application.
package ports

import (
	"context"
	"io"

	"github.com/blazinghq/kiln/internal/core/domain"
)

// ConfigLoader defines the interface for loading the pipeline descriptor.
//
//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks
type ConfigLoader interface {
	// Load reads the descriptor starting from the given working directory
	// and returns the validated pipeline.
	Load(cwd string) (*domain.Pipeline, error)

	// DiscoverRoot walks up from cwd to find the directory containing the
	// pipeline descriptor.
	DiscoverRoot(cwd string) (string, error)
}

// Executor defines the interface for running stage commands.
type Executor interface {
	// Execute runs argv with the given working directory and environment,
	// streaming output to stdout and stderr.
	Execute(ctx context.Context, argv []string, workDir string, env []string, stdout, stderr io.Writer) error
}

// SnapshotStore persists committed stage snapshots and resolves references.
type SnapshotStore interface {
	// Get returns the snapshot cached for the stage under the given input
	// hash. Returns nil, nil on a cache miss.
	Get(stage, inputHash string) (*domain.Snapshot, error)

	// Commit moves a completed build root into the store and records the
	// snapshot in the index. The commit is atomic: a failed stage leaves no
	// index entry behind.
	Commit(snap domain.Snapshot, buildRoot string) (*domain.Snapshot, error)

	// Latest returns the most recent snapshot committed for the stage,
	// regardless of input hash.
	Latest(stage string) (*domain.Snapshot, error)

	// ResolveBase resolves an imported base reference to its snapshot.
	// Returns domain.ErrBaseNotFound if the reference was never imported.
	ResolveBase(ref string) (*domain.Snapshot, error)

	// ImportBase copies a rootfs directory into the store under the given
	// reference, making it available as a stage base.
	ImportBase(ref, rootfs string) (*domain.Snapshot, error)
}

// SyncOptions configures a dependency sync run.
type SyncOptions struct {
	// EnvDir is the isolated environment directory to materialize into.
	EnvDir string
	// WorkDir is the directory holding the manifest and lock file.
	WorkDir string
	// CacheDir is the shared download cache. Empty disables cache reuse;
	// cache absence is never fatal.
	CacheDir string
	// Dev includes development-only dependencies.
	Dev bool
	// CompileBytecode precompiles installed library bytecode.
	CompileBytecode bool
}

// Installer wraps the exact-version dependency resolver.
type Installer interface {
	// Check verifies the lock file still matches the manifest.
	// Returns domain.ErrLockDrift on mismatch.
	Check(ctx context.Context, workDir string) error

	// Sync deterministically installs the locked dependency set, excluding
	// the project's own package, into opts.EnvDir.
	Sync(ctx context.Context, opts SyncOptions) error
}

// Hasher defines the interface for computing stage input hashes.
type Hasher interface {
	// HashStage computes the cache key for a stage: its definition, the
	// digest of its base, and the content of every listed file input.
	HashStage(stage *domain.Stage, baseDigest string, root string, inputs []string) (string, error)

	// HashTree computes a content digest over a directory tree.
	HashTree(root string) (string, error)
}

// TreeCopier copies file trees between the source context, build roots and
// committed snapshots.
type TreeCopier interface {
	// CopyTree recursively copies src into dst, preserving permissions.
	CopyTree(src, dst string) error
}

// Logger defines the interface for logging.
type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(err error)
}
