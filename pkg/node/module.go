package node

import (
	"go.uber.org/fx"
)

// Module provides the TradingNode and its metrics. Config, the clock, the
// cache and a prometheus.Registerer come from other modules; a
// PortfolioInitializer and an Observer are optional.
var Module = fx.Module("node",
	fx.Provide(
		NewMetrics,
		fx.Annotate(
			NewTradingNode,
			fx.ParamTags(``, ``, ``, ``, `optional:"true"`, ``, `optional:"true"`),
		),
	),
)
