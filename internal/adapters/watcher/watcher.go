package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/blazinghq/kiln/internal/core/ports"
)

var _ ports.Watcher = (*Watcher)(nil)

// ignoredDirs are directory names that never hold watched source.
var ignoredDirs = map[string]bool{
	".git":        true,
	".kiln":       true,
	".venv":       true,
	"__pycache__": true,
}

const eventChannelBuffer = 100

// Watcher implements recursive file system watching on top of fsnotify.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	events    chan ports.WatchEvent
}

// NewWatcher creates a new file system watcher.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsw,
		events:    make(chan ports.WatchEvent, eventChannelBuffer),
	}, nil
}

// Start registers every directory under root and begins forwarding events
// until ctx is canceled.
func (w *Watcher) Start(ctx context.Context, root string) error {
	for dir := range w.walkDirs(root) {
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
	}

	go w.pump(ctx)

	return nil
}

// Stop stops the watcher and releases all resources.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// Events returns an iterator over forwarded file system events. The
// iterator ends when the watcher stops.
func (w *Watcher) Events() iter.Seq[ports.WatchEvent] {
	return func(yield func(ports.WatchEvent) bool) {
		for event := range w.events {
			if !yield(event) {
				return
			}
		}
	}
}

// walkDirs yields every watchable directory under root, skipping ignored
// names entirely.
func (w *Watcher) walkDirs(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// An unreadable entry should not stop the walk.
				return nil //nolint:nilerr
			}
			if !d.IsDir() {
				return nil
			}
			if ignoredDirs[d.Name()] {
				return fs.SkipDir
			}
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// pump converts raw fsnotify events and forwards them until ctx is
// canceled or the underlying watcher closes.
func (w *Watcher) pump(ctx context.Context) {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			converted, relevant := convertEvent(event)
			if !relevant {
				continue
			}

			select {
			case w.events <- converted:
			case <-ctx.Done():
				return
			}

			if converted.Operation == ports.OpCreate {
				w.trackNewDir(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watcher: file system error: %v\n", err)
		}
	}
}

// trackNewDir puts a freshly created directory tree under watch, since
// fsnotify registrations are not recursive.
func (w *Watcher) trackNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || ignoredDirs[info.Name()] {
		return
	}
	for dir := range w.walkDirs(path) {
		_ = w.fsWatcher.Add(dir)
	}
}

// convertEvent maps an fsnotify event to a port event. The second return
// is false for operations the reload loop does not care about (chmod).
func convertEvent(event fsnotify.Event) (ports.WatchEvent, bool) {
	var op ports.WatchOp
	switch {
	case event.Op.Has(fsnotify.Write):
		op = ports.OpWrite
	case event.Op.Has(fsnotify.Create):
		op = ports.OpCreate
	case event.Op.Has(fsnotify.Remove):
		op = ports.OpRemove
	case event.Op.Has(fsnotify.Rename):
		op = ports.OpRename
	default:
		return ports.WatchEvent{}, false
	}

	return ports.WatchEvent{Path: event.Name, Operation: op}, true
}
