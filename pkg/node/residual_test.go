package node_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	mocknode "github.com/backtesting-org/trading-node/mocks/github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/venue"
	"github.com/backtesting-org/trading-node/pkg/venue/venuetest"
)

var _ = Describe("FindResiduals", func() {
	It("returns only the venue orders the cache does not know", func() {
		c := cache.NewCache(zap.NewNop(), nil)
		Expect(c.AddOrder(venueOrder("A", "V-A", "ETHUSDT.X", model.SideBuy, model.StatusAccepted))).To(Succeed())
		Expect(c.AddOrder(venueOrder("B", "V-B", "ETHUSDT.X", model.SideSell, model.StatusAccepted))).To(Succeed())

		snap := model.AccountSnapshot{Orders: []model.Order{
			venueOrder("A", "V-A", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
			venueOrder("B", "V-B", "ETHUSDT.X", model.SideSell, model.StatusAccepted),
			venueOrder("C", "V-C", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
		}}

		residual := node.FindResiduals("X", snap, c.ReadSnapshot())
		Expect(residual).To(HaveLen(1))
		Expect(residual[0].ClientOrderID).To(Equal("C"))
	})

	It("matches on client order id when the venue id is unknown to the cache", func() {
		c := cache.NewCache(zap.NewNop(), nil)
		Expect(c.AddOrder(venueOrder("A", "", "ETHUSDT.X", model.SideBuy, model.StatusSubmitted))).To(Succeed())

		snap := model.AccountSnapshot{Orders: []model.Order{
			venueOrder("A", "V-A", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
		}}
		Expect(node.FindResiduals("X", snap, c.ReadSnapshot())).To(BeEmpty())
	})
})

var _ = Describe("Residual order checks", func() {
	var (
		clk      *clock.ManualClock
		c        *cache.Cache
		metrics  *node.Metrics
		x        *venuetest.Client
		observer *mocknode.Observer
		n        *node.TradingNode
	)

	BeforeEach(func() {
		clk = clock.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		c = cache.NewCache(zap.NewNop(), nil)
		metrics = node.NewMetrics(prometheus.NewRegistry())
		x = venuetest.NewClient("X", clk)

		observer = mocknode.NewObserver(GinkgoT())
		observer.On("OnNodeState", mock.Anything, mock.Anything).Maybe()
		observer.On("OnClientState", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
		observer.On("OnReconciliation", mock.Anything).Maybe()

		cfg := node.Config{
			TraderID:    "TESTER-001",
			ExecClients: map[model.Venue]venue.Params{"X": {}},
			Timeouts: node.TimeoutBudget{
				Connection:         5 * time.Second,
				Reconciliation:     5 * time.Second,
				Portfolio:          5 * time.Second,
				Disconnection:      5 * time.Second,
				ResidualCheckDelay: 10 * time.Second,
			},
			ResidualCheckInterval: 30 * time.Second,
		}
		var err error
		n, err = node.NewTradingNode(cfg, zap.NewNop(), clk, c, nil, metrics, observer)
		Expect(err).NotTo(HaveOccurred())
		Expect(n.AddExecClientFactory("X", venuetest.ExecFactory(x))).To(Succeed())
		Expect(n.Build(context.Background())).To(Succeed())
	})

	AfterEach(func() {
		go n.Dispose()
		Eventually(n.Done()).Should(BeClosed())
	})

	It("reports orders that appear at the venue after startup", func() {
		x.SetSnapshot([]model.Order{venueOrder("A", "V-A", "ETHUSDT.X", model.SideBuy, model.StatusAccepted)}, nil)
		Expect(n.Start(context.Background())).To(Succeed())
		_, known := c.ReadSnapshot().Order("A")
		Expect(known).To(BeTrue())

		observer.On("OnResidualOrders", model.Venue("X"), mock.MatchedBy(func(orders []model.Order) bool {
			return len(orders) == 1 && orders[0].ClientOrderID == "C"
		})).Return()

		x.SetSnapshot([]model.Order{
			venueOrder("A", "V-A", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
			venueOrder("C", "V-C", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
		}, nil)

		residual := metrics.ResidualOrders.WithLabelValues("X")
		clk.Advance(9 * time.Second)
		Consistently(func() float64 { return testutil.ToFloat64(residual) }, 50*time.Millisecond).Should(BeZero())

		clk.Advance(time.Second)
		Eventually(func() float64 { return testutil.ToFloat64(residual) }).Should(Equal(1.0))
		Expect(x.Fetches.Load()).To(Equal(int32(2)))

		// the cache is never touched by the audit
		_, ok := c.ReadSnapshot().Order("C")
		Expect(ok).To(BeFalse())

		Eventually(func() float64 {
			clk.Advance(30 * time.Second)
			return testutil.ToFloat64(residual)
		}).Should(BeNumerically(">=", 2))
	})
})
