package cas

import (
	"context"
	"os"
	"path/filepath"

	"github.com/blazinghq/kiln/internal/adapters/config"
	"github.com/blazinghq/kiln/internal/adapters/fs"
	"github.com/blazinghq/kiln/internal/adapters/logger"
	"github.com/blazinghq/kiln/internal/core/domain"
	"github.com/blazinghq/kiln/internal/core/ports"
	"github.com/grindlemire/graft"
)

// NodeID is the unique identifier for the snapshot store Graft node.
const NodeID graft.ID = "adapter.snapshot_store"

func init() {
	graft.Register(graft.Node[ports.SnapshotStore]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{config.NodeID, fs.HasherNodeID, fs.CopierNodeID, logger.NodeID},
		Run: func(ctx context.Context) (ports.SnapshotStore, error) {
			loader, err := graft.Dep[ports.ConfigLoader](ctx)
			if err != nil {
				return nil, err
			}
			hasher, err := graft.Dep[ports.Hasher](ctx)
			if err != nil {
				return nil, err
			}
			copier, err := graft.Dep[ports.TreeCopier](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}

			cwd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			// Root the store next to the descriptor when one is discoverable,
			// otherwise at the working directory. Commands that need a
			// pipeline fail later with the proper config error.
			root, err := loader.DiscoverRoot(cwd)
			if err != nil {
				root = cwd
			}
			return NewStore(filepath.Join(root, domain.DefaultStorePath()), hasher, copier, log)
		},
	})
}
