package watcher

import (
	"context"
	"time"

	"github.com/grindlemire/graft"

	"github.com/blazinghq/kiln/internal/core/ports"
)

// DefaultDebounceWindow groups bursts of filesystem events, such as an
// editor's write-then-rename save, into a single reload.
const DefaultDebounceWindow = 50 * time.Millisecond

// NodeID identifies the filesystem watcher in the Graft graph.
const NodeID graft.ID = "adapter.watcher"

func init() {
	graft.Register(graft.Node[ports.Watcher]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Watcher, error) {
			return NewWatcher()
		},
	})
}
