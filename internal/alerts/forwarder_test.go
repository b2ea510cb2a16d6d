package alerts_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/alerts"
	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/internal/events"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/node"
)

// fakeWriter records messages in place of *kafka.Writer.
type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, m ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) messages() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func (f *fakeWriter) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ = Describe("Forwarder", func() {
	var (
		bus    *events.Bus
		writer *fakeWriter
		fwd    *alerts.Forwarder
	)

	BeforeEach(func() {
		bus = events.NewBus(clock.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), zap.NewNop())
		writer = &fakeWriter{}
		fwd = alerts.NewForwarder("TESTER-001", bus, writer, zap.NewNop())
	})

	It("publishes events keyed by trader id", func() {
		fwd.Start()
		bus.OnResidualOrders("X", []model.Order{{ClientOrderID: "C"}})

		Eventually(writer.messages).Should(HaveLen(1))
		msg := writer.messages()[0]
		Expect(string(msg.Key)).To(Equal("TESTER-001"))
		Expect(msg.Headers).To(ContainElement(kafka.Header{Key: "event_type", Value: []byte("residual_orders")}))

		var env alerts.Envelope
		Expect(json.Unmarshal(msg.Value, &env)).To(Succeed())
		Expect(env.TraderID).To(Equal("TESTER-001"))
		Expect(env.Type).To(Equal(events.EventResidualOrders))
		Expect(env.Venue).To(Equal("X"))
		Expect(env.Data).To(HaveKeyWithValue("count", BeNumerically("==", 1)))

		Expect(fwd.Stop(context.Background())).To(Succeed())
		Expect(writer.isClosed()).To(BeTrue())
	})

	It("keeps events published before start", func() {
		bus.OnNodeState(node.StateCreated, node.StateBuilding)
		bus.OnNodeState(node.StateBuilding, node.StateStarting)
		fwd.Start()

		Eventually(writer.messages).Should(HaveLen(2))
		Expect(fwd.Stop(context.Background())).To(Succeed())
	})

	It("keeps forwarding after a write error", func() {
		writer.err = errors.New("broker unavailable")
		fwd.Start()
		bus.OnFault(&node.FaultError{Phase: node.PhaseRunning, Kind: node.ErrRuntimeFault})
		Consistently(writer.messages, 100*time.Millisecond).Should(BeEmpty())

		writer.mu.Lock()
		writer.err = nil
		writer.mu.Unlock()
		bus.OnNodeState(node.StateRunning, node.StateFaulted)
		Eventually(writer.messages).Should(HaveLen(1))

		Expect(fwd.Stop(context.Background())).To(Succeed())
	})

	It("stops once and closes the writer without having started", func() {
		Expect(fwd.Stop(context.Background())).To(Succeed())
		Expect(fwd.Stop(context.Background())).To(Succeed())
		Expect(writer.isClosed()).To(BeTrue())

		fwd.Start()
		bus.OnNodeState(node.StateRunning, node.StateStopping)
		Consistently(writer.messages, 50*time.Millisecond).Should(BeEmpty())
	})

	It("builds a writer for the configured topic", func() {
		w := alerts.NewKafkaWriter(config.KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "trading-node.events",
			BatchTimeout: 50 * time.Millisecond,
		}, zap.NewNop())
		Expect(w.Topic).To(Equal("trading-node.events"))
		Expect(w.BatchTimeout).To(Equal(50 * time.Millisecond))
		Expect(w.Close()).To(Succeed())
	})
})
