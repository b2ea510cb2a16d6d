package cache

import (
	"go.uber.org/fx"
)

// Module provides the shared Cache. A Database must be supplied by the
// cache database module.
var Module = fx.Module("cache",
	fx.Provide(NewCache),
)
