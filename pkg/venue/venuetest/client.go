// Package venuetest provides scriptable venue clients whose latency is
// measured on a clock.Clock.
package venuetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

// Client implements every venue capability. Zero delays complete
// immediately.
type Client struct {
	Venue model.Venue
	Clock clock.Clock

	ConnectDelay    time.Duration
	ConnectErr      error
	DisconnectDelay time.Duration
	DisconnectErr   error
	SnapshotDelay   time.Duration
	SnapshotErr     error

	mu       sync.Mutex
	snapshot model.AccountSnapshot

	health      chan venue.HealthEvent
	disposeOnce sync.Once

	Connects    atomic.Int32
	Disconnects atomic.Int32
	Disposes    atomic.Int32
	Fetches     atomic.Int32
}

func NewClient(v model.Venue, clk clock.Clock) *Client {
	return &Client{
		Venue:  v,
		Clock:  clk,
		health: make(chan venue.HealthEvent, 16),
	}
}

// SetSnapshot replaces what FetchAccountSnapshot reports.
func (c *Client) SetSnapshot(orders []model.Order, positions []model.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = model.AccountSnapshot{Venue: c.Venue, Orders: orders, Positions: positions}
}

func (c *Client) Connect(ctx context.Context) error {
	c.Connects.Add(1)
	if err := c.wait(ctx, c.ConnectDelay); err != nil {
		return err
	}
	return c.ConnectErr
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.Disconnects.Add(1)
	if err := c.wait(ctx, c.DisconnectDelay); err != nil {
		return err
	}
	return c.DisconnectErr
}

func (c *Client) Dispose() {
	c.Disposes.Add(1)
	c.disposeOnce.Do(func() {
		close(c.health)
	})
}

func (c *Client) FetchAccountSnapshot(ctx context.Context) (model.AccountSnapshot, error) {
	c.Fetches.Add(1)
	if err := c.wait(ctx, c.SnapshotDelay); err != nil {
		return model.AccountSnapshot{}, err
	}
	if c.SnapshotErr != nil {
		return model.AccountSnapshot{}, c.SnapshotErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshot
	snap.Venue = c.Venue
	snap.TakenAt = c.Clock.Now()
	return snap, nil
}

func (c *Client) Health() <-chan venue.HealthEvent {
	return c.health
}

// Emit publishes a health event. It must not be called after Dispose.
func (c *Client) Emit(kind venue.HealthKind, err error) {
	c.health <- venue.HealthEvent{Kind: kind, Err: err, At: c.Clock.Now()}
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// DataFactory returns a factory that always hands out c.
func DataFactory(c *Client) venue.DataClientFactory {
	return venue.DataClientFactoryFunc(func(venue.FactoryContext, model.Venue, venue.Params) (venue.DataClient, error) {
		return c, nil
	})
}

// ExecFactory returns a factory that always hands out c.
func ExecFactory(c *Client) venue.ExecClientFactory {
	return venue.ExecClientFactoryFunc(func(venue.FactoryContext, model.Venue, venue.Params) (venue.ExecutionClient, error) {
		return c, nil
	})
}
