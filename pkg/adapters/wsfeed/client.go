// Package wsfeed is a generic WebSocket market-data client. It subscribes to
// a list of channels on connect, counts what it receives and reports session
// loss and recovery on its health channel.
package wsfeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
	"github.com/backtesting-org/trading-node/pkg/websocket/connection"
)

// Kind is the factory name used in node configuration.
const Kind = "wsfeed"

// Params are decoded from the venue's configured parameters.
type Params struct {
	URL               string            `mapstructure:"url" validate:"required,url"`
	Headers           map[string]string `mapstructure:"headers"`
	Subscribe         []string          `mapstructure:"subscribe"`
	SubscribeOp       string            `mapstructure:"subscribe_op"`
	HandshakeTimeout  time.Duration     `mapstructure:"handshake_timeout" validate:"gte=0"`
	ReadTimeout       time.Duration     `mapstructure:"read_timeout" validate:"gte=0"`
	PingInterval      time.Duration     `mapstructure:"ping_interval" validate:"gte=0"`
	ReconnectDelay    time.Duration     `mapstructure:"reconnect_delay" validate:"gte=0"`
	MaxReconnectDelay time.Duration     `mapstructure:"max_reconnect_delay" validate:"gte=0"`
	MaxReconnects     int               `mapstructure:"max_reconnects" validate:"gte=0"`
	DisableReconnect  bool              `mapstructure:"disable_reconnect"`
	Insecure          bool              `mapstructure:"insecure"`
}

// connectionConfig maps the decoded params onto the connection manager.
func (p Params) connectionConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.URL = p.URL
	cfg.Headers = p.Headers
	cfg.EnableReconnect = !p.DisableReconnect
	cfg.RequireSSL = !p.Insecure
	if p.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = p.HandshakeTimeout
	}
	if p.ReadTimeout > 0 {
		cfg.ReadTimeout = p.ReadTimeout
	}
	if p.PingInterval > 0 {
		cfg.PingInterval = p.PingInterval
	}
	if p.ReconnectDelay > 0 {
		cfg.ReconnectDelay = p.ReconnectDelay
	}
	if p.MaxReconnectDelay > 0 {
		cfg.MaxReconnectDelay = p.MaxReconnectDelay
	}
	if p.MaxReconnects > 0 {
		cfg.MaxReconnects = p.MaxReconnects
	}
	return cfg
}

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Client implements venue.DataClient and venue.HealthReporter.
type Client struct {
	venue  model.Venue
	params Params
	conn   *connection.Manager
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	health   chan venue.HealthEvent
	disposed bool
	last     time.Time
}

// New builds a client from the venue's parameters. Nothing is dialed until
// Connect.
func New(fc venue.FactoryContext, v model.Venue, raw venue.Params) (*Client, error) {
	var p Params
	if err := raw.Decode(&p); err != nil {
		return nil, err
	}
	if p.SubscribeOp == "" {
		p.SubscribeOp = "subscribe"
	}

	cfg := p.connectionConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := fc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := fc.Clock
	if clk == nil {
		clk = clock.NewLiveClock()
	}

	c := &Client{
		venue:  v,
		params: p,
		conn:   connection.NewManager(cfg, nil, clk, logger),
		clock:  clk,
		logger: logger,
		health: make(chan venue.HealthEvent, 32),
	}
	c.conn.SetHandlers(connection.Handlers{
		OnConnect:    c.subscribe,
		OnMessage:    c.onMessage,
		OnDisconnect: func(err error) { c.emit(venue.HealthDisconnected, err) },
		OnReconnect:  func(int) { c.emit(venue.HealthRecovered, nil) },
		OnReconnectFailed: func(_ int, err error) {
			c.emit(venue.HealthError, err)
		},
	})
	return c, nil
}

// Factory returns the data client factory registered under Kind.
func Factory() venue.DataClientFactory {
	return venue.DataClientFactoryFunc(func(fc venue.FactoryContext, v model.Venue, p venue.Params) (venue.DataClient, error) {
		return New(fc, v, p)
	})
}

func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.conn.Disconnect(ctx)
}

// Dispose tears the session down without waiting and closes the health
// channel. It is safe to call more than once.
func (c *Client) Dispose() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.conn.Disconnect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("Dispose did not close cleanly", zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disposed {
		c.disposed = true
		close(c.health)
	}
}

func (c *Client) Health() <-chan venue.HealthEvent {
	return c.health
}

// Stats reports the underlying session.
func (c *Client) Stats() connection.Stats {
	return c.conn.Stats()
}

// LastMessage is the clock time of the most recent message, zero if none.
func (c *Client) LastMessage() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Client) subscribe(context.Context) error {
	if len(c.params.Subscribe) == 0 {
		return nil
	}
	c.logger.Info("Subscribing", zap.Strings("channels", c.params.Subscribe))
	return c.conn.SendJSON(subscribeRequest{Op: c.params.SubscribeOp, Args: c.params.Subscribe})
}

func (c *Client) onMessage([]byte) error {
	c.mu.Lock()
	c.last = c.clock.Now()
	c.mu.Unlock()
	return nil
}

// emit never blocks the connection goroutines; events are dropped when the
// node is not keeping up.
func (c *Client) emit(kind venue.HealthKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	select {
	case c.health <- venue.HealthEvent{Kind: kind, Err: err, At: c.clock.Now()}:
	default:
		c.logger.Warn("Health event dropped", zap.Stringer("kind", kind))
	}
}
