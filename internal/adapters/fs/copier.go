package fs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.TreeCopier = (*Copier)(nil)

// Copier copies file trees between the source context, build roots and
// committed snapshots.
type Copier struct{}

// NewCopier creates a new Copier.
func NewCopier() *Copier {
	return &Copier{}
}

// CopyTree recursively copies src into dst, preserving file permissions.
// A file src is copied to dst directly; a directory src is mirrored under
// dst. Symlinks are recreated rather than followed.
func (c *Copier) CopyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrPathStatFailed.Error()), "path", src)
	}

	if !info.IsDir() {
		if err := os.MkdirAll(filepath.Dir(dst), domain.DirPerm); err != nil {
			return zerr.Wrap(err, domain.ErrCopyFailed.Error())
		}
		return c.copyEntry(src, dst, info)
	}

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return zerr.With(zerr.Wrap(err, domain.ErrCopyFailed.Error()), "path", path)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return zerr.Wrap(err, domain.ErrCopyFailed.Error())
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return zerr.With(zerr.Wrap(err, domain.ErrCopyFailed.Error()), "path", target)
			}
			return nil
		}
		return c.copyEntry(path, target, info)
	})
}

func (c *Copier) copyEntry(src, dst string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return c.copySymlink(src, dst)
	}
	return c.copyFile(src, dst, info.Mode().Perm())
}

func (c *Copier) copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrCopyFailed.Error()), "path", src)
	}
	// Replace a stale link left by a previous build of the same root.
	_ = os.Remove(dst)
	if err := os.Symlink(link, dst); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrCopyFailed.Error()), "path", dst)
	}
	return nil
}

func (c *Copier) copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrFileOpenFailed.Error()), "path", src)
	}
	defer in.Close() //nolint:errcheck // Best effort close in defer

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrCopyFailed.Error()), "path", dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return zerr.With(zerr.Wrap(err, domain.ErrCopyFailed.Error()), "path", dst)
	}
	if err := out.Close(); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrCopyFailed.Error()), "path", dst)
	}
	return nil
}
