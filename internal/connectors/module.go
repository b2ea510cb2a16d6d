package connectors

import (
	"go.uber.org/fx"
)

// Module provides the adapter registry with the built-in adapters.
var Module = fx.Module("connectors",
	fx.Provide(DefaultRegistry),
)
