package cache

import (
	"github.com/backtesting-org/trading-node/pkg/model"
)

// Snapshot is a point-in-time view of the cache. It never changes after it
// is taken.
type Snapshot struct {
	s *state
}

func (sn Snapshot) Version() uint64 {
	return sn.s.version
}

func (sn Snapshot) Order(clientOrderID string) (model.Order, bool) {
	return sn.s.orders.Get(clientOrderID)
}

func (sn Snapshot) OrderByVenueID(v model.Venue, venueOrderID string) (model.Order, bool) {
	id, ok := sn.s.venueIDs.Get(venueKey(v, venueOrderID))
	if !ok {
		return model.Order{}, false
	}
	return sn.s.orders.Get(id)
}

// Orders returns every cached order ordered by client order id.
func (sn Snapshot) Orders() []model.Order {
	out := make([]model.Order, 0, sn.s.orders.Len())
	sn.s.orders.Scan(func(_ string, o model.Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

func (sn Snapshot) OrdersForVenue(v model.Venue) []model.Order {
	var out []model.Order
	sn.s.orders.Scan(func(_ string, o model.Order) bool {
		if o.Venue == v {
			out = append(out, o)
		}
		return true
	})
	return out
}

// OpenOrders returns the open orders at v, or at every venue when v is empty.
func (sn Snapshot) OpenOrders(v model.Venue) []model.Order {
	var out []model.Order
	sn.s.orders.Scan(func(_ string, o model.Order) bool {
		if o.Status.IsOpen() && (v == "" || o.Venue == v) {
			out = append(out, o)
		}
		return true
	})
	return out
}

func (sn Snapshot) Position(v model.Venue, instrument model.InstrumentID) (model.Position, bool) {
	return sn.s.positions.Get(model.PositionKey(v, instrument))
}

func (sn Snapshot) Positions() []model.Position {
	out := make([]model.Position, 0, sn.s.positions.Len())
	sn.s.positions.Scan(func(_ string, p model.Position) bool {
		out = append(out, p)
		return true
	})
	return out
}

// PositionsForVenue scans only the key range owned by v.
func (sn Snapshot) PositionsForVenue(v model.Venue) []model.Position {
	prefix := string(v) + "|"
	var out []model.Position
	sn.s.positions.Ascend(prefix, func(k string, p model.Position) bool {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			return false
		}
		out = append(out, p)
		return true
	})
	return out
}
