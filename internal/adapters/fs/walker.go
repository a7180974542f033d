// Package fs provides file system adapters for walking, hashing and copying trees.
package fs

import (
	"io/fs"
	"iter"
	"path/filepath"
	"sort"
)

// Walker provides deterministic file walking.
type Walker struct{}

// NewWalker creates a new Walker.
func NewWalker() *Walker {
	return &Walker{}
}

// defaultIgnoredDirs are never walked. They hold either VCS metadata,
// kiln's own state or interpreter byproducts, and must not influence
// input hashes.
var defaultIgnoredDirs = map[string]bool{
	".git":        true,
	".kiln":       true,
	"__pycache__": true,
}

// WalkFiles yields all regular files under root in lexical order.
// Paths are yielded as emitted by filepath.WalkDir, i.e. prefixed with root.
// Directories matching an entry in ignores (glob patterns on the base name)
// are skipped in addition to the defaults.
func (w *Walker) WalkFiles(root string, ignores []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		var files []string
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if w.shouldSkipDir(d.Name(), ignores) {
					return filepath.SkipDir
				}
				return nil
			}
			files = append(files, path)
			return nil
		})

		// WalkDir is already lexical, but sorting keeps the contract
		// explicit for hash stability.
		sort.Strings(files)
		for _, f := range files {
			if !yield(f) {
				return
			}
		}
	}
}

func (w *Walker) shouldSkipDir(name string, ignores []string) bool {
	if defaultIgnoredDirs[name] {
		return true
	}
	for _, pattern := range ignores {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
