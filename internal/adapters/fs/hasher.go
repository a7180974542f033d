package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"
)

var _ ports.Hasher = (*Hasher)(nil)

// Hasher computes stage input hashes and tree digests using XXHash.
type Hasher struct {
	walker *Walker
}

// NewHasher creates a new Hasher.
func NewHasher(walker *Walker) *Hasher {
	return &Hasher{walker: walker}
}

// ComputeFileHash computes the XXHash of a file's content.
func (h *Hasher) ComputeFileHash(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, domain.ErrFileOpenFailed.Error()), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, domain.ErrFileHashFailed.Error()), "path", path)
	}

	return hasher.Sum64(), nil
}

// HashStage computes the cache key for a stage: its definition, the digest
// of its base snapshot, and the content of every listed file input.
// Identical definition + identical base + identical inputs yield the same
// key, which is what makes rebuilds reproducible.
func (h *Hasher) HashStage(stage *domain.Stage, baseDigest, root string, inputs []string) (string, error) {
	hasher := xxhash.New()

	h.hashStageDefinition(stage, hasher)

	_, _ = hasher.WriteString(baseDigest)
	_, _ = hasher.Write([]byte{0})

	for _, input := range inputs {
		path := filepath.Join(root, input)
		if err := h.hashPath(path, root, hasher); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

// HashTree computes a content digest over a directory tree, using paths
// relative to root so the digest survives relocation into the store.
func (h *Hasher) HashTree(root string) (string, error) {
	hasher := xxhash.New()
	if err := h.hashPath(root, root, hasher); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

// hashStageDefinition hashes the stage's name, base reference, instructions,
// environment, identity and entry command.
func (h *Hasher) hashStageDefinition(stage *domain.Stage, hasher *xxhash.Digest) {
	_, _ = hasher.WriteString(stage.Name)
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.WriteString(stage.From)
	_, _ = hasher.Write([]byte{0})

	for _, inst := range stage.Instructions {
		_, _ = hasher.Write([]byte{byte(inst.Kind)})
		for _, arg := range inst.Argv {
			_, _ = hasher.WriteString(arg)
			_, _ = hasher.Write([]byte{0})
		}
		_, _ = hasher.WriteString(inst.Src)
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.WriteString(inst.Dst)
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.WriteString(inst.FromStage)
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.WriteString(inst.Key + "=" + inst.Value)
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.WriteString(inst.Dir)
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.WriteString(strconv.Itoa(inst.Port))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.WriteString(strconv.FormatBool(inst.Dev))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.WriteString(strconv.FormatBool(inst.BestEffort))
		_, _ = hasher.Write([]byte{0})
	}
	_, _ = hasher.Write([]byte{0}) // Section separator

	h.hashEnvironment(stage.Env, hasher)

	if stage.Identity != nil {
		_, _ = hasher.WriteString(stage.Identity.User)
		_, _ = hasher.WriteString(":")
		_, _ = hasher.WriteString(stage.Identity.Group)
		_, _ = hasher.WriteString(":")
		_, _ = hasher.WriteString(strconv.Itoa(stage.Identity.UID))
		_, _ = hasher.WriteString(":")
		_, _ = hasher.WriteString(strconv.Itoa(stage.Identity.GID))
	}
	_, _ = hasher.Write([]byte{0})

	if stage.Entry != nil {
		for _, arg := range stage.Entry.Argv {
			_, _ = hasher.WriteString(arg)
			_, _ = hasher.Write([]byte{0})
		}
		_, _ = hasher.WriteString(stage.Entry.Host)
		_, _ = hasher.WriteString(strconv.Itoa(stage.Entry.Port))
		_, _ = hasher.WriteString(strconv.FormatBool(stage.Entry.Reload))
	}
	_, _ = hasher.Write([]byte{0})
}

// hashEnvironment hashes environment variables in a deterministic order.
func (h *Hasher) hashEnvironment(env map[string]string, hasher *xxhash.Digest) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, _ = hasher.WriteString(k)
		_, _ = hasher.Write([]byte{'='})
		_, _ = hasher.WriteString(env[k])
		_, _ = hasher.Write([]byte{0})
	}
	_, _ = hasher.Write([]byte{0})
}

// hashPath hashes a file, or every file of a directory tree, writing paths
// relative to base for portability.
func (h *Hasher) hashPath(path, base string, mainHasher io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrPathStatFailed.Error()), "path", path)
	}

	if info.IsDir() {
		for filePath := range h.walker.WalkFiles(path, nil) {
			if err := h.hashFile(filePath, base, mainHasher); err != nil {
				return err
			}
		}
		return nil
	}
	return h.hashFile(path, base, mainHasher)
}

func (h *Hasher) hashFile(path, base string, mainHasher io.Writer) error {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		rel = path
	}
	_, _ = mainHasher.Write([]byte(rel))
	_, _ = mainHasher.Write([]byte{0})

	hash, err := h.ComputeFileHash(path)
	if err != nil {
		return err
	}

	if err := binary.Write(mainHasher, binary.LittleEndian, hash); err != nil {
		return zerr.Wrap(err, "failed to write hash to digest")
	}
	return nil
}
