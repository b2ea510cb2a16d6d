// Package alerts forwards node events from the event bus to Kafka so that
// residual orders, faults and lifecycle changes reach operators outside the
// process.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/internal/events"
)

const (
	subscriptionBuffer = 256
	writeTimeout       = 5 * time.Second
)

// MessageWriter is the part of *kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value of every alert message.
type Envelope struct {
	TraderID string           `json:"trader_id"`
	Type     events.EventType `json:"type"`
	Venue    string           `json:"venue,omitempty"`
	Time     time.Time        `json:"time"`
	Data     map[string]any   `json:"data"`
}

// NewKafkaWriter creates a writer for the configured topic. Messages are
// keyed by trader id so one node's events stay ordered on one partition.
func NewKafkaWriter(cfg config.KafkaConfig, logger *zap.Logger) *kafka.Writer {
	sugar := logger.Named("kafka").Sugar()
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		ErrorLogger:            kafka.LoggerFunc(sugar.Errorf),
	}
}

// Forwarder drains a bus subscription into a MessageWriter.
type Forwarder struct {
	traderID string
	bus      *events.Bus
	writer   MessageWriter
	sub      <-chan events.Event
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	stopped bool
}

// NewForwarder subscribes to every event type right away so nothing
// published before Start is lost.
func NewForwarder(traderID string, bus *events.Bus, writer MessageWriter, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		traderID: traderID,
		bus:      bus,
		writer:   writer,
		sub:      bus.SubscribeAll(subscriptionBuffer),
		logger:   logger.Named("alerts"),
	}
}

func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil || f.stopped {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.wg.Go(func() { f.run(ctx) })
	f.logger.Info("Alert forwarder started")
}

// Stop unsubscribes, forwards whatever is still buffered and closes the
// writer. Delivery is abandoned when ctx ends.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	cancel := f.cancel
	f.mu.Unlock()

	f.bus.Unsubscribe(f.sub)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		f.wg.Wait()
	}()

	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("alert forwarder did not drain: %w", ctx.Err()))
	}
	if cancel != nil {
		cancel()
	}

	if err := f.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
	}
	return errors.Join(errs...)
}

func (f *Forwarder) run(ctx context.Context) {
	for ev := range f.sub {
		if err := f.forward(ctx, ev); err != nil {
			f.logger.Warn("Failed to forward event",
				zap.String("type", string(ev.Type)),
				zap.String("venue", ev.Venue.String()),
				zap.Error(err))
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev events.Event) error {
	value, err := json.Marshal(Envelope{
		TraderID: f.traderID,
		Type:     ev.Type,
		Venue:    ev.Venue.String(),
		Time:     ev.Time,
		Data:     ev.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(f.traderID),
		Value:   value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(ev.Type)}},
		Time:    ev.Time,
	})
}
