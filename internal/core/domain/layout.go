package domain

import "path/filepath"

const (
	// KilnDirName is the name of the internal workspace directory.
	KilnDirName = ".kiln"

	// StoreDirName is the name of the snapshot store directory.
	StoreDirName = "store"

	// CacheDirName is the name of the cache directory.
	CacheDirName = "cache"

	// InstallerCacheDirName is the shared download cache for the installer.
	InstallerCacheDirName = "uv"

	// TmpDirName holds in-progress build roots before commit.
	TmpDirName = "tmp"

	// KilnFileName is the name of the pipeline descriptor.
	KilnFileName = "kiln.yaml"

	// EnvDirName is the isolated dependency environment directory inside a
	// build root. It is produced once by the builder stage and copied
	// byte-for-byte into downstream stages.
	EnvDirName = ".venv"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644
)

// DefaultStorePath returns the default path for the snapshot store.
func DefaultStorePath() string {
	return filepath.Join(KilnDirName, StoreDirName)
}

// DefaultInstallerCachePath returns the default path for the installer's
// shared download cache.
func DefaultInstallerCachePath() string {
	return filepath.Join(KilnDirName, CacheDirName, InstallerCacheDirName)
}

// DefaultTmpPath returns the default path for in-progress build roots.
func DefaultTmpPath() string {
	return filepath.Join(KilnDirName, TmpDirName)
}
