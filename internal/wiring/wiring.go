// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "github.com/blazinghq/kiln/internal/adapters/cas"
	_ "github.com/blazinghq/kiln/internal/adapters/config"
	_ "github.com/blazinghq/kiln/internal/adapters/fs"
	_ "github.com/blazinghq/kiln/internal/adapters/logger"
	_ "github.com/blazinghq/kiln/internal/adapters/shell"
	_ "github.com/blazinghq/kiln/internal/adapters/uv"
	_ "github.com/blazinghq/kiln/internal/adapters/watcher"
	// Register app nodes.
	_ "github.com/blazinghq/kiln/internal/app"
)
