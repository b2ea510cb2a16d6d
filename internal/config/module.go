package config

import (
	"go.uber.org/fx"

	"github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/portfolio"
)

// Module supplies a loaded configuration and the views derived from it.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(
			func(c *Config) node.Config { return c.NodeConfig() },
			func(c *Config) (portfolio.Limits, error) { return c.PortfolioLimits() },
			func(c *Config) LoggingConfig { return c.Logging },
			func(c *Config) CacheDatabaseConfig { return c.CacheDatabase },
		),
	)
}
