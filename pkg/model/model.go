// Package model holds the order and position values shared by the cache,
// the reconciliation engine and venue adapters.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies an external trading venue, e.g. "BINANCE".
type Venue string

func (v Venue) String() string {
	return string(v)
}

// InstrumentID is a venue-qualified instrument, e.g. "ETHUSDT.BINANCE".
type InstrumentID string

// Venue returns the venue suffix of the instrument id, if any.
func (id InstrumentID) Venue() Venue {
	s := string(id)
	if i := strings.LastIndex(s, "."); i >= 0 && i < len(s)-1 {
		return Venue(s[i+1:])
	}
	return ""
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	// StatusClosedExternally marks an order the cache believed open but the
	// venue no longer reports.
	StatusClosedExternally OrderStatus = "CLOSED_EXTERNALLY"
)

// IsOpen reports whether the order can still trade.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusSubmitted, StatusAccepted, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// Order is an immutable view of one order. Mutations produce a new value.
type Order struct {
	ClientOrderID string          `json:"client_order_id"`
	VenueOrderID  string          `json:"venue_order_id,omitempty"`
	Venue         Venue           `json:"venue"`
	InstrumentID  InstrumentID    `json:"instrument_id"`
	Side          OrderSide       `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	Price         decimal.Decimal `json:"price"`
	Status        OrderStatus     `json:"status"`
	External      bool            `json:"external"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (o Order) String() string {
	return fmt.Sprintf("Order(%s, venue_order_id=%s, %s %s %s @ %s, %s)",
		o.ClientOrderID, o.VenueOrderID, o.InstrumentID, o.Side, o.Quantity, o.Price, o.Status)
}

// Position is the net quantity held in one instrument at one venue.
// Quantity is signed: positive long, negative short.
type Position struct {
	Venue        Venue           `json:"venue"`
	InstrumentID InstrumentID    `json:"instrument_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Currency     string          `json:"currency"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Key returns the cache key of the position.
func (p Position) Key() string {
	return PositionKey(p.Venue, p.InstrumentID)
}

func PositionKey(venue Venue, instrument InstrumentID) string {
	return string(venue) + "|" + string(instrument)
}

// AccountSnapshot is the venue's authoritative view of open orders and
// positions at the time it was fetched.
type AccountSnapshot struct {
	Venue     Venue      `json:"venue"`
	Orders    []Order    `json:"orders"`
	Positions []Position `json:"positions"`
	TakenAt   time.Time  `json:"taken_at"`
}

// PositionMismatch records a cached position corrected to venue truth.
type PositionMismatch struct {
	Cached Position `json:"cached"`
	Venue  Position `json:"venue"`
}

// Delta is the venue quantity minus the cached quantity.
func (m PositionMismatch) Delta() decimal.Decimal {
	return m.Venue.Quantity.Sub(m.Cached.Quantity)
}

// ReconciliationReport is the diff between the cache and one venue's
// snapshot. It is applied to the cache as a single merge.
type ReconciliationReport struct {
	ID                 string             `json:"id"`
	Venue              Venue              `json:"venue"`
	ExternalOrders     []Order            `json:"external_orders"`
	ClosedOrders       []Order            `json:"closed_orders"`
	OrderUpdates       []Order            `json:"order_updates"`
	PositionMismatches []PositionMismatch `json:"position_mismatches"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// Empty reports whether applying the report would change nothing.
func (r ReconciliationReport) Empty() bool {
	return len(r.ExternalOrders) == 0 &&
		len(r.ClosedOrders) == 0 &&
		len(r.OrderUpdates) == 0 &&
		len(r.PositionMismatches) == 0
}
