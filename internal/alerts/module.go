package alerts

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/internal/events"
)

// Module forwards bus events to Kafka. Include it only when kafka alerts
// are enabled.
var Module = fx.Module("alerts",
	fx.Provide(
		func(cfg *config.Config, logger *zap.Logger) MessageWriter {
			return NewKafkaWriter(cfg.Alerts.Kafka, logger)
		},
		func(cfg *config.Config, bus *events.Bus, w MessageWriter, logger *zap.Logger) *Forwarder {
			return NewForwarder(cfg.TraderID, bus, w, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, f *Forwarder) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				f.Start()
				return nil
			},
			OnStop: f.Stop,
		})
	}),
)
