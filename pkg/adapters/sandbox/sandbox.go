// Package sandbox simulates a venue so a node can run end to end without
// external connectivity. Latency, failures and the account state reported
// to reconciliation are all driven by the venue's parameters.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

// Kind is the factory name used in node configuration.
const Kind = "sandbox"

var (
	ErrConnectRefused  = errors.New("sandbox: connection refused")
	ErrSnapshotFailed  = errors.New("sandbox: account snapshot unavailable")
	ErrNotConnected    = errors.New("sandbox: not connected")
	ErrSimulatedOutage = errors.New("sandbox: simulated outage")
)

type OrderParams struct {
	ClientOrderID string `mapstructure:"client_order_id"`
	VenueOrderID  string `mapstructure:"venue_order_id" validate:"required"`
	Instrument    string `mapstructure:"instrument" validate:"required"`
	Side          string `mapstructure:"side" validate:"required,oneof=BUY SELL"`
	Quantity      string `mapstructure:"quantity" validate:"required,numeric"`
	Filled        string `mapstructure:"filled" validate:"omitempty,numeric"`
	Price         string `mapstructure:"price" validate:"omitempty,numeric"`
	Status        string `mapstructure:"status" validate:"omitempty,oneof=SUBMITTED ACCEPTED PARTIALLY_FILLED FILLED CANCELED REJECTED EXPIRED"`
}

type PositionParams struct {
	Instrument string `mapstructure:"instrument" validate:"required"`
	Quantity   string `mapstructure:"quantity" validate:"required,numeric"`
	EntryPrice string `mapstructure:"entry_price" validate:"omitempty,numeric"`
	Currency   string `mapstructure:"currency"`
}

// Params are decoded from the venue's configured parameters.
type Params struct {
	ConnectLatency    time.Duration    `mapstructure:"connect_latency" validate:"gte=0"`
	DisconnectLatency time.Duration    `mapstructure:"disconnect_latency" validate:"gte=0"`
	SnapshotLatency   time.Duration    `mapstructure:"snapshot_latency" validate:"gte=0"`
	FailConnect       bool             `mapstructure:"fail_connect"`
	FailSnapshot      bool             `mapstructure:"fail_snapshot"`
	OutageEvery       time.Duration    `mapstructure:"outage_every" validate:"gte=0"`
	Currency          string           `mapstructure:"currency"`
	Orders            []OrderParams    `mapstructure:"orders" validate:"dive"`
	Positions         []PositionParams `mapstructure:"positions" validate:"dive"`
}

// Client is a simulated venue client. It implements venue.ExecutionClient
// and venue.HealthReporter; the data role uses the same type.
type Client struct {
	venue  model.Venue
	params Params
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
	disposed  bool
	orders    []model.Order
	positions []model.Position
	health    chan venue.HealthEvent
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// New decodes raw and seeds the simulated account.
func New(fc venue.FactoryContext, v model.Venue, raw venue.Params) (*Client, error) {
	var p Params
	if err := raw.Decode(&p); err != nil {
		return nil, err
	}
	if p.Currency == "" {
		p.Currency = "USDT"
	}

	orders, err := p.seedOrders(v)
	if err != nil {
		return nil, err
	}
	positions, err := p.seedPositions(v)
	if err != nil {
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

	return &Client{
		venue:     v,
		params:    p,
		clock:     clk,
		logger:    logger.Named("sandbox"),
		orders:    orders,
		positions: positions,
		health:    make(chan venue.HealthEvent, 16),
	}, nil
}

func (p Params) seedOrders(v model.Venue) ([]model.Order, error) {
	out := make([]model.Order, 0, len(p.Orders))
	for i, o := range p.Orders {
		qty, err := decimal.NewFromString(o.Quantity)
		if err != nil {
			return nil, fmt.Errorf("orders[%d].quantity: %w", i, err)
		}
		order := model.Order{
			ClientOrderID: o.ClientOrderID,
			VenueOrderID:  o.VenueOrderID,
			Venue:         v,
			InstrumentID:  model.InstrumentID(o.Instrument),
			Side:          model.OrderSide(o.Side),
			Quantity:      qty,
			Status:        model.StatusAccepted,
		}
		if o.Status != "" {
			order.Status = model.OrderStatus(o.Status)
		}
		if o.Filled != "" {
			if order.FilledQty, err = decimal.NewFromString(o.Filled); err != nil {
				return nil, fmt.Errorf("orders[%d].filled: %w", i, err)
			}
		}
		if o.Price != "" {
			if order.Price, err = decimal.NewFromString(o.Price); err != nil {
				return nil, fmt.Errorf("orders[%d].price: %w", i, err)
			}
		}
		out = append(out, order)
	}
	return out, nil
}

func (p Params) seedPositions(v model.Venue) ([]model.Position, error) {
	out := make([]model.Position, 0, len(p.Positions))
	for i, pp := range p.Positions {
		qty, err := decimal.NewFromString(pp.Quantity)
		if err != nil {
			return nil, fmt.Errorf("positions[%d].quantity: %w", i, err)
		}
		pos := model.Position{
			Venue:        v,
			InstrumentID: model.InstrumentID(pp.Instrument),
			Quantity:     qty,
			Currency:     p.Currency,
		}
		if pp.Currency != "" {
			pos.Currency = pp.Currency
		}
		if pp.EntryPrice != "" {
			if pos.EntryPrice, err = decimal.NewFromString(pp.EntryPrice); err != nil {
				return nil, fmt.Errorf("positions[%d].entry_price: %w", i, err)
			}
		}
		out = append(out, pos)
	}
	return out, nil
}

// DataFactory returns the data client factory registered under Kind.
func DataFactory() venue.DataClientFactory {
	return venue.DataClientFactoryFunc(func(fc venue.FactoryContext, v model.Venue, p venue.Params) (venue.DataClient, error) {
		return New(fc, v, p)
	})
}

// ExecFactory returns the execution client factory registered under Kind.
func ExecFactory() venue.ExecClientFactory {
	return venue.ExecClientFactoryFunc(func(fc venue.FactoryContext, v model.Venue, p venue.Params) (venue.ExecutionClient, error) {
		return New(fc, v, p)
	})
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.sleep(ctx, c.params.ConnectLatency); err != nil {
		return err
	}
	if c.params.FailConnect {
		return ErrConnectRefused
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrNotConnected
	}
	c.connected = true

	if c.params.OutageEvery > 0 && c.stop == nil {
		outageCtx, cancel := context.WithCancel(context.Background())
		c.stop = cancel
		c.wg.Add(1)
		go c.simulateOutages(outageCtx)
	}

	c.logger.Info("Sandbox connected", zap.String("venue", c.venue.String()))
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.halt()
	if err := c.sleep(ctx, c.params.DisconnectLatency); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Client) Dispose() {
	c.halt()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.connected = false
	close(c.health)
}

func (c *Client) FetchAccountSnapshot(ctx context.Context) (model.AccountSnapshot, error) {
	if err := c.sleep(ctx, c.params.SnapshotLatency); err != nil {
		return model.AccountSnapshot{}, err
	}
	if c.params.FailSnapshot {
		return model.AccountSnapshot{}, ErrSnapshotFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return model.AccountSnapshot{}, ErrNotConnected
	}
	return model.AccountSnapshot{
		Venue:     c.venue,
		Orders:    append([]model.Order(nil), c.orders...),
		Positions: append([]model.Position(nil), c.positions...),
		TakenAt:   c.clock.Now(),
	}, nil
}

func (c *Client) Health() <-chan venue.HealthEvent {
	return c.health
}

// PlaceOrder appears at the venue without going through the node, the way
// an order placed from another session would.
func (c *Client) PlaceOrder(o model.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o.Venue = c.venue
	if o.Status == "" {
		o.Status = model.StatusAccepted
	}
	c.orders = append(c.orders, o)
}

func (c *Client) halt() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		c.wg.Wait()
	}
}

func (c *Client) simulateOutages(ctx context.Context) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.params.OutageEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.emit(venue.HealthError, ErrSimulatedOutage)
		}
	}
}

func (c *Client) emit(kind venue.HealthKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	select {
	case c.health <- venue.HealthEvent{Kind: kind, Err: err, At: c.clock.Now()}:
	default:
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
