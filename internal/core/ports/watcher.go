package ports

import (
	"context"
	"iter"
)

//go:generate mockgen -source=watcher.go -destination=mocks/mock_watcher.go -package=mocks

// WatchOp classifies a filesystem change. Attribute-only changes are
// filtered out before they reach this type.
type WatchOp uint8

const (
	// OpCreate reports a new file or directory.
	OpCreate WatchOp = iota
	// OpWrite reports modified file contents.
	OpWrite
	// OpRemove reports a deleted file or directory.
	OpRemove
	// OpRename reports a renamed file or directory.
	OpRename
)

// WatchEvent is one filesystem change, delivered with the absolute
// path it happened at.
type WatchEvent struct {
	Path      string
	Operation WatchOp
}

// Watcher observes a directory tree and streams change events. The
// development reload supervisor consumes it to restart workers on
// source edits.
type Watcher interface {
	// Start begins watching root and every directory below it.
	Start(ctx context.Context, root string) error
	// Stop releases the underlying OS watches.
	Stop() error
	// Events returns an iterator over observed changes.
	Events() iter.Seq[WatchEvent]
}
