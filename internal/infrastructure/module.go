package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/pkg/clock"
)

// Module provides infrastructure components (logging, clock, metrics
// registry, lifecycle)
var Module = fx.Module("infrastructure",
	fx.Provide(
		func(cfg *config.Config) (*zap.Logger, error) {
			return NewLogger(cfg.Logging, cfg.TraderID)
		},
		clock.NewLiveClock,
		NewRegistry,
		func(r *prometheus.Registry) prometheus.Registerer { return r },
		func(r *prometheus.Registry) prometheus.Gatherer { return r },
	),
	fx.Invoke(RegisterLifecycle),
)
