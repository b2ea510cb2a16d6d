package cachedb

import (
	"go.uber.org/fx"
)

// Module provides the configured cache.Database. The cache closes it during
// node shutdown.
var Module = fx.Module("cachedb",
	fx.Provide(New),
)
