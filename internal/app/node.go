package app

import (
	"context"

	"github.com/blazinghq/kiln/internal/adapters/cas"
	"github.com/blazinghq/kiln/internal/adapters/config"
	"github.com/blazinghq/kiln/internal/adapters/fs"
	"github.com/blazinghq/kiln/internal/adapters/logger"
	"github.com/blazinghq/kiln/internal/adapters/shell"
	"github.com/blazinghq/kiln/internal/adapters/uv"
	"github.com/blazinghq/kiln/internal/adapters/watcher"
	"github.com/blazinghq/kiln/internal/core/ports"
	"github.com/grindlemire/graft"
)

// NodeID is the unique identifier for the application components Graft node.
const NodeID graft.ID = "app.components"

// Components bundles the fully wired application with the pieces the entry
// point needs directly.
type Components struct {
	App    *App
	Logger ports.Logger
}

func init() {
	graft.Register(graft.Node[*Components]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			config.NodeID,
			shell.NodeID,
			logger.NodeID,
			cas.NodeID,
			fs.HasherNodeID,
			fs.CopierNodeID,
			uv.NodeID,
			watcher.NodeID,
		},
		Run: func(ctx context.Context) (*Components, error) {
			loader, err := graft.Dep[ports.ConfigLoader](ctx)
			if err != nil {
				return nil, err
			}
			executor, err := graft.Dep[ports.Executor](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			store, err := graft.Dep[ports.SnapshotStore](ctx)
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
			installer, err := graft.Dep[ports.Installer](ctx)
			if err != nil {
				return nil, err
			}
			fsWatcher, err := graft.Dep[ports.Watcher](ctx)
			if err != nil {
				return nil, err
			}

			return &Components{
				App:    New(loader, executor, log, store, hasher, copier, installer, fsWatcher),
				Logger: log,
			}, nil
		},
	})
}
