package domain

import (
	"os"
	"path/filepath"

	"go.trai.ch/zerr"
)

// Lockfile binds the exact-version dependency lock file to its manifest.
// An identical lock file and base snapshot yield an identical resolved
// environment; that contract is enforced by hashing both files into the
// builder stage's input hash and by the installer's frozen check.
type Lockfile struct {
	// ManifestPath is the root-relative path of the dependency manifest.
	ManifestPath string

	// LockPath is the root-relative path of the lock file.
	LockPath string
}

// Resolve checks both files exist under root and returns their absolute
// paths. A missing file is a fatal build error.
func (l Lockfile) Resolve(root string) (manifest, lock string, err error) {
	manifest = filepath.Join(root, l.ManifestPath)
	if _, statErr := os.Stat(manifest); statErr != nil {
		return "", "", zerr.With(ErrManifestMissing, "path", l.ManifestPath)
	}

	lock = filepath.Join(root, l.LockPath)
	if _, statErr := os.Stat(lock); statErr != nil {
		return "", "", zerr.With(ErrLockfileMissing, "path", l.LockPath)
	}

	return manifest, lock, nil
}
