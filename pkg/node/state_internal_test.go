package node

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/venue"
	"github.com/backtesting-org/trading-node/pkg/venue/venuetest"
)

var _ = Describe("ClientState transitions", func() {
	DescribeTable("canTransitionTo",
		func(from, to ClientState, allowed bool) {
			Expect(from.canTransitionTo(to)).To(Equal(allowed))
		},
		Entry("forward", ClientUninitialized, ClientConnecting, true),
		Entry("skip reconciling for data clients", ClientConnected, ClientRunning, true),
		Entry("never-connected to disposed", ClientUninitialized, ClientDisposed, true),
		Entry("backwards", ClientRunning, ClientConnected, false),
		Entry("re-entry", ClientConnecting, ClientConnecting, false),
		Entry("into failed", ClientReconciling, ClientFailed, true),
		Entry("failed to disposed", ClientFailed, ClientDisposed, true),
		Entry("failed to running", ClientFailed, ClientRunning, false),
		Entry("failed twice", ClientFailed, ClientFailed, false),
		Entry("out of disposed", ClientDisposed, ClientFailed, false),
	)
})

var _ = Describe("State transitions", func() {
	DescribeTable("canTransitionTo",
		func(from, to State, allowed bool) {
			Expect(from.canTransitionTo(to)).To(Equal(allowed))
		},
		Entry("build", StateCreated, StateBuilding, true),
		Entry("start", StateBuilding, StateStarting, true),
		Entry("start fails", StateStarting, StateFaulted, true),
		Entry("runtime fault", StateRunning, StateFaulted, true),
		Entry("faulted is absorbing", StateFaulted, StateStopping, false),
		Entry("disposed is terminal", StateDisposed, StateCreated, false),
		Entry("skip build", StateCreated, StateStarting, false),
	)
})

var _ = Describe("setStateLocked", func() {
	var n *TradingNode

	BeforeEach(func() {
		var err error
		n, err = NewTradingNode(Config{TraderID: "TESTER-001", Timeouts: DefaultTimeouts()},
			zap.NewNop(), clock.NewLiveClock(), cache.NewCache(zap.NewNop(), nil), nil, nil, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("applies legal transitions and returns the state left", func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		from, err := n.setStateLocked(StateBuilding)
		Expect(err).NotTo(HaveOccurred())
		Expect(from).To(Equal(StateCreated))
		Expect(n.state).To(Equal(StateBuilding))
	})

	It("refuses illegal transitions and leaves the state alone", func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		_, err := n.setStateLocked(StateRunning)
		Expect(errors.Is(err, ErrInvalidTransition)).To(BeTrue())
		Expect(n.state).To(Equal(StateCreated))

		n.state = StateFaulted
		_, err = n.setStateLocked(StateStopping)
		Expect(errors.Is(err, ErrInvalidTransition)).To(BeTrue())
		Expect(n.state).To(Equal(StateFaulted))
	})

	It("is the only way the node changes state over a full lifecycle", func() {
		var seen [][2]State
		n.observer = recordingObserver{onState: func(from, to State) {
			Expect(from.canTransitionTo(to)).To(BeTrue(), "%s -> %s", from, to)
			seen = append(seen, [2]State{from, to})
		}}

		Expect(n.Build(context.Background())).To(Succeed())
		Expect(n.Start(context.Background())).To(Succeed())
		n.Dispose()

		Expect(seen).To(Equal([][2]State{
			{StateCreated, StateBuilding},
			{StateBuilding, StateStarting},
			{StateStarting, StateRunning},
			{StateRunning, StateStopping},
			{StateStopping, StateDisposed},
		}))
	})
})

type recordingObserver struct {
	NopObserver
	onState func(from, to State)
}

func (o recordingObserver) OnNodeState(from, to State) { o.onState(from, to) }

var _ = Describe("ClientHandle", func() {
	var (
		h      *ClientHandle
		client *venuetest.Client
		seen   []ClientState
	)

	BeforeEach(func() {
		seen = nil
		client = venuetest.NewClient("X", clock.NewLiveClock())
		h = newClientHandle("X", venue.RoleData, client, zap.NewNop(), func(_ *ClientHandle, _, to ClientState) {
			seen = append(seen, to)
		})
	})

	It("rejects invalid transitions", func() {
		Expect(h.transition(ClientConnecting)).To(Succeed())
		err := h.transition(ClientUninitialized)
		Expect(errors.Is(err, ErrInvalidTransition)).To(BeTrue())
		Expect(h.State()).To(Equal(ClientConnecting))
	})

	It("records the failure cause once", func() {
		first := errors.New("first")
		h.fail(first)
		h.fail(errors.New("second"))

		Expect(h.State()).To(Equal(ClientFailed))
		Expect(h.Err()).To(Equal(first))
		Expect(h.Status().Error).To(Equal("first"))
	})

	It("disposes the client exactly once", func() {
		h.dispose()
		h.dispose()

		Expect(client.Disposes.Load()).To(Equal(int32(1)))
		Expect(h.State()).To(Equal(ClientDisposed))
		Expect(seen).To(Equal([]ClientState{ClientDisposed}))
	})
})
