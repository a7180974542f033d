// Package cas implements content addressed storage for stage snapshots.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.SnapshotStore = (*Store)(nil)

// Store implements ports.SnapshotStore using a file-per-snapshot strategy.
// Committed rootfs trees live under roots/<digest>; the index, latest
// pointers and imported base references are JSON files named by the hash of
// their key.
type Store struct {
	dir    string
	hasher ports.Hasher
	copier ports.TreeCopier
	logger ports.Logger

	mu sync.Mutex
}

// NewStore creates a snapshot store rooted at the given directory.
func NewStore(dir string, hasher ports.Hasher, copier ports.TreeCopier, logger ports.Logger) (*Store, error) {
	for _, sub := range []string{"roots", "index", "latest", "bases"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), domain.DirPerm); err != nil {
			return nil, zerr.Wrap(err, domain.ErrStoreCreateFailed.Error())
		}
	}
	return &Store{dir: dir, hasher: hasher, copier: copier, logger: logger}, nil
}

// Get retrieves the snapshot cached for the stage under the given input hash.
// Returns nil, nil on a cache miss. The cache is best-effort here: an index
// entry that no longer parses is treated as a miss so the stage rebuilds and
// overwrites it, rather than wedging every build until a manual clean.
func (s *Store) Get(stage, inputHash string) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readEntryData(s.entryFilename("index", stage+"\x00"+inputHash))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	snap, err := decodeEntry(data)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("corrupt index entry for stage %s, rebuilding: %v", stage, err))
		return nil, nil
	}

	// A snapshot whose rootfs was pruned out from under the index is a miss,
	// not an error. The stage simply rebuilds.
	if _, err := os.Stat(snap.RootDir); err != nil {
		return nil, nil //nolint:nilerr // Missing rootfs degrades to a cache miss
	}
	return snap, nil
}

// Commit moves a completed build root into the store and records the
// snapshot in the index. The rootfs is placed before any index entry is
// written, so a failed commit leaves no dangling pointer behind.
func (s *Store) Commit(snap domain.Snapshot, buildRoot string) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := s.hasher.HashTree(buildRoot)
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrCommitFailed.Error())
	}

	target := filepath.Join(s.dir, "roots", digest)
	if _, err := os.Stat(target); err == nil {
		// Identical content is already stored. Drop the duplicate build root.
		if err := os.RemoveAll(buildRoot); err != nil {
			return nil, zerr.Wrap(err, domain.ErrCommitFailed.Error())
		}
	} else if err := os.Rename(buildRoot, target); err != nil {
		return nil, zerr.Wrap(err, domain.ErrCommitFailed.Error())
	}

	snap.Digest = digest
	snap.RootDir = target
	snap.CreatedAt = time.Now().UTC()

	if err := s.writeEntry(s.entryFilename("index", snap.Stage+"\x00"+snap.InputHash), &snap); err != nil {
		return nil, err
	}
	if err := s.writeEntry(s.entryFilename("latest", snap.Stage), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Latest returns the most recent snapshot committed for the stage.
func (s *Store) Latest(stage string) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.readEntry(s.entryFilename("latest", stage))
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, zerr.With(domain.ErrSnapshotNotFound, "stage", stage)
	}
	return snap, nil
}

// ResolveBase resolves an imported base reference to its snapshot.
func (s *Store) ResolveBase(ref string) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.readEntry(s.entryFilename("bases", ref))
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, zerr.With(domain.ErrBaseNotFound, "ref", ref)
	}
	return snap, nil
}

// ImportBase copies a rootfs directory into the store under the given
// reference, making it available as a stage base.
func (s *Store) ImportBase(ref, rootfs string) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := s.hasher.HashTree(rootfs)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(s.dir, "roots", digest)
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		// Stage into a sibling temp dir and rename, so a partial copy never
		// becomes visible under the digest.
		tmp, err := os.MkdirTemp(filepath.Join(s.dir, "roots"), "import-*")
		if err != nil {
			return nil, zerr.Wrap(err, domain.ErrStoreCreateFailed.Error())
		}
		if err := s.copier.CopyTree(rootfs, tmp); err != nil {
			_ = os.RemoveAll(tmp)
			return nil, err
		}
		if err := os.Rename(tmp, target); err != nil {
			_ = os.RemoveAll(tmp)
			return nil, zerr.Wrap(err, domain.ErrStoreWriteFailed.Error())
		}
	}

	snap := domain.Snapshot{
		Stage:     ref,
		Digest:    digest,
		RootDir:   target,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.writeEntry(s.entryFilename("bases", ref), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// readEntry loads and decodes an entry, treating decode failure as fatal.
// Latest and ResolveBase use it directly since a missing entry is already an
// error on those paths.
func (s *Store) readEntry(filename string) (*domain.Snapshot, error) {
	data, err := s.readEntryData(filename)
	if err != nil || data == nil {
		return nil, err
	}

	snap, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// readEntryData returns the raw entry bytes, or nil when no entry exists.
func (s *Store) readEntryData(filename string) ([]byte, error) {
	//nolint:gosec // Path is constructed from trusted directory and hashed filename
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.Wrap(err, domain.ErrStoreReadFailed.Error())
	}
	return data, nil
}

func decodeEntry(data []byte) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, zerr.Wrap(err, domain.ErrStoreReadFailed.Error())
	}
	return &snap, nil
}

func (s *Store) writeEntry(filename string, snap *domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return zerr.Wrap(err, domain.ErrStoreWriteFailed.Error())
	}

	tmp := filename + ".tmp"
	//nolint:gosec // Path is constructed from trusted directory and hashed filename
	if err := os.WriteFile(tmp, data, domain.FilePerm); err != nil {
		return zerr.Wrap(err, domain.ErrStoreWriteFailed.Error())
	}
	if err := os.Rename(tmp, filename); err != nil {
		return zerr.Wrap(err, domain.ErrStoreWriteFailed.Error())
	}
	return nil
}

func (s *Store) entryFilename(kind, key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, kind, hex.EncodeToString(hash[:])+".json")
}
