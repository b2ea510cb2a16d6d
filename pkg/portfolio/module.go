package portfolio

import (
	"go.uber.org/fx"
)

var Module = fx.Module("portfolio",
	fx.Provide(
		fx.Annotate(
			NewPortfolio,
			fx.ParamTags(``, ``, `optional:"true"`, `optional:"true"`),
		),
	),
)
