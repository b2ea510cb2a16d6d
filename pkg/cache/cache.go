// Package cache holds the node's shared view of orders and positions.
//
// All mutations go through a single writer lane. Each mutation stages a
// copy-on-write clone of the current indexes and publishes it with one atomic
// pointer swap, so readers only ever observe complete states.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

var (
	ErrOrderExists   = errors.New("order already cached")
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order")
)

// Database persists cache contents between runs.
type Database interface {
	Load(ctx context.Context) ([]model.Order, []model.Position, error)
	Save(ctx context.Context, orders []model.Order, positions []model.Position) error
	Close() error
}

const btreeDegree = 32

type state struct {
	version   uint64
	orders    *btree.Map[string, model.Order]
	venueIDs  *btree.Map[string, string]
	positions *btree.Map[string, model.Position]
}

func newState() *state {
	return &state{
		orders:    btree.NewMap[string, model.Order](btreeDegree),
		venueIDs:  btree.NewMap[string, string](btreeDegree),
		positions: btree.NewMap[string, model.Position](btreeDegree),
	}
}

func (s *state) clone() *state {
	return &state{
		version:   s.version,
		orders:    s.orders.Copy(),
		venueIDs:  s.venueIDs.Copy(),
		positions: s.positions.Copy(),
	}
}

func (s *state) putOrder(o model.Order) {
	if prev, ok := s.orders.Get(o.ClientOrderID); ok && prev.VenueOrderID != "" && prev.VenueOrderID != o.VenueOrderID {
		s.venueIDs.Delete(venueKey(prev.Venue, prev.VenueOrderID))
	}
	s.orders.Set(o.ClientOrderID, o)
	if o.VenueOrderID != "" {
		s.venueIDs.Set(venueKey(o.Venue, o.VenueOrderID), o.ClientOrderID)
	}
}

func venueKey(v model.Venue, venueOrderID string) string {
	return string(v) + "|" + venueOrderID
}

// Cache is safe for concurrent use.
type Cache struct {
	writeMu sync.Mutex
	current atomic.Pointer[state]
	db      Database
	logger  *zap.Logger
}

// NewCache creates an empty cache. db may be nil, in which case Load and
// Flush are no-ops.
func NewCache(logger *zap.Logger, db Database) *Cache {
	c := &Cache{
		db:     db,
		logger: logger.Named("cache"),
	}
	c.current.Store(newState())
	return c
}

// ReadSnapshot returns the current immutable view.
func (c *Cache) ReadSnapshot() Snapshot {
	return Snapshot{s: c.current.Load()}
}

// Version returns the number of mutations applied so far.
func (c *Cache) Version() uint64 {
	return c.current.Load().version
}

// update runs fn against a staged clone and publishes it only if fn succeeds.
func (c *Cache) update(fn func(s *state) error) (uint64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur := c.current.Load()
	next := cur.clone()
	if err := fn(next); err != nil {
		return cur.version, err
	}
	next.version = cur.version + 1
	c.current.Store(next)
	return next.version, nil
}

// Merge applies a reconciliation report as one indivisible update.
func (c *Cache) Merge(report model.ReconciliationReport) (uint64, error) {
	version, err := c.update(func(s *state) error {
		for _, o := range report.ExternalOrders {
			if o.ClientOrderID == "" {
				return fmt.Errorf("%w: external order %s has no client order id", ErrInvalidOrder, o.VenueOrderID)
			}
			if cached, exists := s.orders.Get(o.ClientOrderID); exists {
				if cached.Venue == o.Venue && cached.VenueOrderID == o.VenueOrderID {
					continue
				}
				return fmt.Errorf("%w: external order %s at %s has client order id %s held by %s order %s",
					ErrOrderExists, o.VenueOrderID, o.Venue, o.ClientOrderID, cached.Venue, cached.VenueOrderID)
			}
			o.External = true
			s.putOrder(o)
		}

		for _, o := range report.ClosedOrders {
			cached, ok := s.orders.Get(o.ClientOrderID)
			if !ok {
				continue
			}
			cached.Status = model.StatusClosedExternally
			cached.UpdatedAt = report.GeneratedAt
			s.putOrder(cached)
		}

		for _, o := range report.OrderUpdates {
			if _, ok := s.orders.Get(o.ClientOrderID); !ok {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ClientOrderID)
			}
			s.putOrder(o)
		}

		for _, m := range report.PositionMismatches {
			s.positions.Set(m.Venue.Key(), m.Venue)
		}
		return nil
	})
	if err != nil {
		return version, fmt.Errorf("failed to merge reconciliation report for %s: %w", report.Venue, err)
	}

	c.logger.Debug("Merged reconciliation report",
		zap.String("venue", report.Venue.String()),
		zap.Uint64("version", version),
		zap.Int("external_orders", len(report.ExternalOrders)),
		zap.Int("closed_orders", len(report.ClosedOrders)),
		zap.Int("order_updates", len(report.OrderUpdates)),
		zap.Int("position_mismatches", len(report.PositionMismatches)))

	return version, nil
}

// AddOrder caches a newly submitted order.
func (c *Cache) AddOrder(o model.Order) error {
	if o.ClientOrderID == "" {
		return fmt.Errorf("%w: missing client order id", ErrInvalidOrder)
	}
	_, err := c.update(func(s *state) error {
		if _, exists := s.orders.Get(o.ClientOrderID); exists {
			return fmt.Errorf("%w: %s", ErrOrderExists, o.ClientOrderID)
		}
		s.putOrder(o)
		return nil
	})
	return err
}

// UpdateOrder replaces a cached order with a newer view of it.
func (c *Cache) UpdateOrder(o model.Order) error {
	_, err := c.update(func(s *state) error {
		if _, ok := s.orders.Get(o.ClientOrderID); !ok {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ClientOrderID)
		}
		s.putOrder(o)
		return nil
	})
	return err
}

// SetPosition replaces the position for its venue and instrument.
func (c *Cache) SetPosition(p model.Position) {
	_, _ = c.update(func(s *state) error {
		s.positions.Set(p.Key(), p)
		return nil
	})
}

// Load replaces the cache contents with what the database holds.
func (c *Cache) Load(ctx context.Context) error {
	if c.db == nil {
		return nil
	}

	orders, positions, err := c.db.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cache: %w", err)
	}

	_, err = c.update(func(s *state) error {
		fresh := newState()
		for _, o := range orders {
			if o.ClientOrderID == "" {
				continue
			}
			fresh.putOrder(o)
		}
		for _, p := range positions {
			fresh.positions.Set(p.Key(), p)
		}
		*s = *fresh
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("Loaded cache from database",
		zap.Int("orders", len(orders)),
		zap.Int("positions", len(positions)))
	return nil
}

// Flush writes the current snapshot to the database.
func (c *Cache) Flush(ctx context.Context) error {
	if c.db == nil {
		return nil
	}

	snap := c.ReadSnapshot()
	if err := c.db.Save(ctx, snap.Orders(), snap.Positions()); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}

	c.logger.Debug("Flushed cache", zap.Uint64("version", snap.Version()))
	return nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
