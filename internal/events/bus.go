// Package events fans node notifications out to in-process subscribers such
// as the alert forwarder and the status API.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

// EventType represents the type of event
type EventType string

const (
	EventNodeState      EventType = "node_state"
	EventClientState    EventType = "client_state"
	EventReconciliation EventType = "reconciliation"
	EventResidualOrders EventType = "residual_orders"
	EventFault          EventType = "fault"
)

// AllEventTypes lists every type the bus publishes.
var AllEventTypes = []EventType{
	EventNodeState,
	EventClientState,
	EventReconciliation,
	EventResidualOrders,
	EventFault,
}

// Event represents a node event
type Event struct {
	Type  EventType      `json:"type"`
	Venue model.Venue    `json:"venue,omitempty"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data"`
}

const defaultHistory = 100

// Bus implements node.Observer by publishing every notification as an Event.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	subscribers map[EventType][]chan Event
	recent      []Event
	history     int
	closed      bool
	mu          sync.RWMutex

	clock  clock.Clock
	logger *zap.Logger
}

var _ node.Observer = (*Bus)(nil)

// NewBus creates a new event bus that remembers the last 100 events.
func NewBus(clk clock.Clock, logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		history:     defaultHistory,
		clock:       clk,
		logger:      logger.Named("events"),
	}
}

// Subscribe creates a subscription to events of a specific type
func (b *Bus) Subscribe(eventType EventType, bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}

	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all event types
func (b *Bus) SubscribeAll(bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}

	for _, eventType := range AllEventTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	}
	return ch
}

// Publish publishes an event to all subscribers
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = b.clock.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.recent = append(b.recent, event)
	if len(b.recent) > b.history {
		b.recent = b.recent[len(b.recent)-b.history:]
	}

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("Subscriber full, event dropped", zap.String("type", string(event.Type)))
		}
	}
}

// Recent returns up to n of the latest events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	return append([]Event(nil), b.recent[len(b.recent)-n:]...)
}

// Unsubscribe removes ch from every type it was subscribed to and closes it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var found chan Event
	for eventType, subscribers := range b.subscribers {
		for i, subscriber := range subscribers {
			if subscriber == ch {
				found = subscriber
				b.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
				break
			}
		}
	}
	if found != nil {
		close(found)
	}
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]struct{})
	for eventType, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			if _, ok := seen[ch]; !ok {
				seen[ch] = struct{}{}
				close(ch)
			}
		}
		delete(b.subscribers, eventType)
	}
}

func (b *Bus) OnNodeState(from, to node.State) {
	b.Publish(Event{
		Type: EventNodeState,
		Data: map[string]any{"from": from.String(), "to": to.String()},
	})
}

func (b *Bus) OnClientState(v model.Venue, role venue.Role, from, to node.ClientState) {
	b.Publish(Event{
		Type:  EventClientState,
		Venue: v,
		Data:  map[string]any{"role": string(role), "from": from.String(), "to": to.String()},
	})
}

func (b *Bus) OnReconciliation(report model.ReconciliationReport) {
	b.Publish(Event{
		Type:  EventReconciliation,
		Venue: report.Venue,
		Data: map[string]any{
			"report_id":           report.ID,
			"external_orders":     len(report.ExternalOrders),
			"closed_orders":       len(report.ClosedOrders),
			"order_updates":       len(report.OrderUpdates),
			"position_mismatches": len(report.PositionMismatches),
		},
	})
}

func (b *Bus) OnResidualOrders(v model.Venue, orders []model.Order) {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ClientOrderID)
	}
	b.Publish(Event{
		Type:  EventResidualOrders,
		Venue: v,
		Data:  map[string]any{"count": len(orders), "client_order_ids": ids},
	})
}

func (b *Bus) OnFault(err *node.FaultError) {
	data := map[string]any{
		"phase": string(err.Phase),
		"kind":  err.Kind.Error(),
		"error": err.Error(),
	}
	if err.Role != "" {
		data["role"] = string(err.Role)
	}
	b.Publish(Event{Type: EventFault, Venue: err.Venue, Data: data})
}
