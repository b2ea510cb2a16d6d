package events

import (
	"context"

	"go.uber.org/fx"

	"github.com/backtesting-org/trading-node/pkg/node"
)

// Module provides the Bus, also as the node's Observer.
var Module = fx.Module("events",
	fx.Provide(
		NewBus,
		func(b *Bus) node.Observer { return b },
	),
	fx.Invoke(func(lc fx.Lifecycle, b *Bus) {
		lc.Append(fx.StopHook(func(context.Context) error {
			b.Close()
			return nil
		}))
	}),
)
