package logger

import (
	"context"

	"github.com/grindlemire/graft"

	"github.com/blazinghq/kiln/internal/core/ports"
)

// NodeID identifies the logger in the Graft graph. The node is cached
// so every component shares one logger and its output settings.
const NodeID graft.ID = "adapter.logger"

func init() {
	graft.Register(graft.Node[ports.Logger]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Logger, error) {
			return New(), nil
		},
	})
}
