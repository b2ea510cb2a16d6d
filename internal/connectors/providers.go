package connectors

import (
	"github.com/backtesting-org/trading-node/pkg/adapters/sandbox"
	"github.com/backtesting-org/trading-node/pkg/adapters/wsfeed"
)

// DefaultRegistry returns a registry with every built-in adapter.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, p := range []Provider{sandboxProvider(), wsfeedProvider()} {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func sandboxProvider() Provider {
	return Provider{
		Kind:        sandbox.Kind,
		Description: "Simulated venue with configurable latency, failures and seeded account state",
		Data:        sandbox.DataFactory(),
		Exec:        sandbox.ExecFactory(),
		Params: []ParamMetadata{
			{Name: "connect_latency", Type: ParamDuration, Description: "Delay before Connect returns"},
			{Name: "disconnect_latency", Type: ParamDuration, Description: "Delay before Disconnect returns"},
			{Name: "snapshot_latency", Type: ParamDuration, Description: "Delay before an account snapshot is returned"},
			{Name: "fail_connect", Type: ParamBool, Description: "Refuse every connection attempt", DefaultValue: false},
			{Name: "fail_snapshot", Type: ParamBool, Description: "Fail every account snapshot", DefaultValue: false},
			{Name: "outage_every", Type: ParamDuration, Description: "Report a runtime error on this period while connected"},
			{Name: "currency", Type: ParamString, Description: "Settlement currency of seeded positions", DefaultValue: "USDT"},
			{Name: "orders", Type: ParamList, Description: "Open orders the venue reports (venue_order_id, instrument, side, quantity, ...)"},
			{Name: "positions", Type: ParamList, Description: "Positions the venue reports (instrument, quantity, entry_price)"},
		},
	}
}

func wsfeedProvider() Provider {
	return Provider{
		Kind:        wsfeed.Kind,
		Description: "Generic WebSocket market data feed with automatic reconnect",
		Data:        wsfeed.Factory(),
		Params: []ParamMetadata{
			{Name: "url", Type: ParamString, Description: "WebSocket endpoint", Required: true},
			{Name: "headers", Type: ParamMap, Description: "Extra handshake headers"},
			{Name: "subscribe", Type: ParamList, Description: "Channels subscribed on every (re)connect"},
			{Name: "subscribe_op", Type: ParamString, Description: "Operation name of the subscribe request", DefaultValue: "subscribe"},
			{Name: "handshake_timeout", Type: ParamDuration, Description: "WebSocket handshake timeout"},
			{Name: "read_timeout", Type: ParamDuration, Description: "Session is considered lost after this long without a message"},
			{Name: "ping_interval", Type: ParamDuration, Description: "Keepalive ping period"},
			{Name: "reconnect_delay", Type: ParamDuration, Description: "Initial reconnect backoff"},
			{Name: "max_reconnect_delay", Type: ParamDuration, Description: "Reconnect backoff cap"},
			{Name: "max_reconnects", Type: ParamInt, Description: "Attempts before the session is reported failed"},
			{Name: "disable_reconnect", Type: ParamBool, Description: "Report session loss without reconnecting", DefaultValue: false},
			{Name: "insecure", Type: ParamBool, Description: "Allow ws:// endpoints", DefaultValue: false},
		},
	}
}
