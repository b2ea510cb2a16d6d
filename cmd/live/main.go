package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/alerts"
	"github.com/backtesting-org/trading-node/internal/api"
	"github.com/backtesting-org/trading-node/internal/cachedb"
	"github.com/backtesting-org/trading-node/internal/cli"
	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/internal/connectors"
	"github.com/backtesting-org/trading-node/internal/events"
	"github.com/backtesting-org/trading-node/internal/infrastructure"
	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/portfolio"
)

// lifecycleMargin covers fx hooks that run around the node's own budgets.
const lifecycleMargin = 10 * time.Second

func newApp(cfg *config.Config) *fx.App {
	t := cfg.Timeouts
	options := []fx.Option{
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.StartTimeout(t.Connection + t.Reconciliation + t.Portfolio + t.StrategyStart + lifecycleMargin),
		fx.StopTimeout(3*t.Disconnection + lifecycleMargin),

		config.Module(cfg),
		// Stop hooks run in reverse: the node is disposed before alerts
		// drain and before the bus closes.
		events.Module,
	}
	if cfg.Alerts.Kafka.Enabled {
		options = append(options, alerts.Module)
	}
	options = append(options,
		cachedb.Module,
		cache.Module,
		portfolio.Module,
		fx.Provide(func(p *portfolio.Portfolio) node.PortfolioInitializer { return p }),
		node.Module,
		connectors.Module,
	)
	if cfg.API.Enabled {
		options = append(options, api.Module)
	}
	options = append(options, infrastructure.Module)

	return fx.New(options...)
}

func main() {
	if err := cli.NewRootCmd(newApp).Execute(); err != nil {
		var exit *cli.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
