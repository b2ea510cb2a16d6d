package node_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/node"
)

func venueOrder(clientID, venueID string, instrument model.InstrumentID, side model.OrderSide, status model.OrderStatus) model.Order {
	return model.Order{
		ClientOrderID: clientID,
		VenueOrderID:  venueID,
		Venue:         "X",
		InstrumentID:  instrument,
		Side:          side,
		Quantity:      decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(100),
		Status:        status,
	}
}

func venuePosition(instrument model.InstrumentID, qty int64, currency string) model.Position {
	return model.Position{
		Venue:        "X",
		InstrumentID: instrument,
		Quantity:     decimal.NewFromInt(qty),
		EntryPrice:   decimal.NewFromInt(100),
		Currency:     currency,
	}
}

var _ = Describe("Diff", func() {
	var (
		c   *cache.Cache
		now time.Time
	)

	BeforeEach(func() {
		c = cache.NewCache(zap.NewNop(), nil)
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	})

	It("treats unknown venue orders as external", func() {
		snap := model.AccountSnapshot{Orders: []model.Order{
			venueOrder("", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
		}}

		report, err := node.Diff("X", snap, c.ReadSnapshot(), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.ExternalOrders).To(HaveLen(1))
		Expect(report.ExternalOrders[0].ClientOrderID).To(Equal(node.ExternalOrderID("X", "V-1")))
		Expect(report.ExternalOrders[0].External).To(BeTrue())
		Expect(report.ID).NotTo(BeEmpty())
	})

	It("keeps external orders with the same venue order id apart across venues", func() {
		x := venueOrder("", "1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted)
		y := venueOrder("", "1", "ETHUSDT.Y", model.SideSell, model.StatusAccepted)
		y.Venue = "Y"

		reportX, err := node.Diff("X", model.AccountSnapshot{Orders: []model.Order{x}}, c.ReadSnapshot(), now)
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Merge(reportX)
		Expect(err).NotTo(HaveOccurred())

		reportY, err := node.Diff("Y", model.AccountSnapshot{Orders: []model.Order{y}}, c.ReadSnapshot(), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(reportY.ExternalOrders).To(HaveLen(1))
		Expect(reportY.ExternalOrders[0].ClientOrderID).NotTo(Equal(reportX.ExternalOrders[0].ClientOrderID))
		_, err = c.Merge(reportY)
		Expect(err).NotTo(HaveOccurred())

		snap := c.ReadSnapshot()
		Expect(snap.Orders()).To(HaveLen(2))
		_, ok := snap.OrderByVenueID("X", "1")
		Expect(ok).To(BeTrue())
		_, ok = snap.OrderByVenueID("Y", "1")
		Expect(ok).To(BeTrue())
		Expect(node.FindResiduals("Y", model.AccountSnapshot{Orders: []model.Order{y}}, snap)).To(BeEmpty())
	})

	It("reports a client order id cached for another venue as a mismatch", func() {
		pending := venueOrder("C-1", "", "ETHUSDT.Y", model.SideBuy, model.StatusSubmitted)
		pending.Venue = "Y"
		Expect(c.AddOrder(pending)).To(Succeed())

		snap := model.AccountSnapshot{Orders: []model.Order{
			venueOrder("C-1", "V-1", "ETHUSDT.Y", model.SideBuy, model.StatusAccepted),
		}}
		report, err := node.Diff("X", snap, c.ReadSnapshot(), now)

		var mismatch *node.MismatchError
		Expect(errors.As(err, &mismatch)).To(BeTrue())
		Expect(mismatch.Mismatches[0].Key).To(Equal("C-1"))
		Expect(report.OrderUpdates).To(BeEmpty())
		Expect(report.ExternalOrders).To(BeEmpty())

		cached, _ := c.ReadSnapshot().Order("C-1")
		Expect(cached.Venue).To(Equal(model.Venue("Y")))
		Expect(cached.VenueOrderID).To(BeEmpty())
	})

	It("closes cached open orders the venue no longer reports", func() {
		Expect(c.AddOrder(venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted))).To(Succeed())
		Expect(c.AddOrder(venueOrder("O-2", "V-2", "ETHUSDT.X", model.SideBuy, model.StatusFilled))).To(Succeed())

		report, err := node.Diff("X", model.AccountSnapshot{}, c.ReadSnapshot(), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.ClosedOrders).To(HaveLen(1))
		Expect(report.ClosedOrders[0].ClientOrderID).To(Equal("O-1"))
	})

	It("updates orders whose status or fill differs", func() {
		Expect(c.AddOrder(venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted))).To(Succeed())
		filled := venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusPartiallyFilled)
		filled.FilledQty = decimal.RequireFromString("0.4")

		report, err := node.Diff("X", model.AccountSnapshot{Orders: []model.Order{filled}}, c.ReadSnapshot(), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.OrderUpdates).To(HaveLen(1))
		Expect(report.OrderUpdates[0].Status).To(Equal(model.StatusPartiallyFilled))
		Expect(report.ClosedOrders).To(BeEmpty())
		Expect(report.ExternalOrders).To(BeEmpty())
	})

	It("matches by client order id when the cache has no venue id yet", func() {
		pending := venueOrder("O-1", "", "ETHUSDT.X", model.SideBuy, model.StatusSubmitted)
		Expect(c.AddOrder(pending)).To(Succeed())

		accepted := venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted)
		report, err := node.Diff("X", model.AccountSnapshot{Orders: []model.Order{accepted}}, c.ReadSnapshot(), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.OrderUpdates).To(HaveLen(1))
		Expect(report.OrderUpdates[0].VenueOrderID).To(Equal("V-1"))
	})

	It("corrects position quantities to venue truth", func() {
		c.SetPosition(venuePosition("ETHUSDT.X", 1, "USDT"))
		c.SetPosition(venuePosition("BTCUSDT.X", 2, "USDT"))

		snap := model.AccountSnapshot{Positions: []model.Position{
			venuePosition("ETHUSDT.X", 3, "USDT"),
			venuePosition("SOLUSDT.X", 5, "USDT"),
		}}

		report, err := node.Diff("X", snap, c.ReadSnapshot(), now)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.PositionMismatches).To(HaveLen(3))

		deltas := map[model.InstrumentID]string{}
		for _, m := range report.PositionMismatches {
			deltas[m.Venue.InstrumentID] = m.Delta().String()
		}
		Expect(deltas).To(Equal(map[model.InstrumentID]string{
			"ETHUSDT.X": "2",
			"SOLUSDT.X": "5",
			"BTCUSDT.X": "-2",
		}))
	})

	DescribeTable("irreconcilable differences",
		func(setup func(), snap model.AccountSnapshot) {
			setup()
			_, err := node.Diff("X", snap, c.ReadSnapshot(), now)

			var mismatch *node.MismatchError
			Expect(errors.As(err, &mismatch)).To(BeTrue())
			Expect(mismatch.Mismatches).To(HaveLen(1))
		},
		Entry("instrument differs",
			func() {
				Expect(c.AddOrder(venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted))).To(Succeed())
			},
			model.AccountSnapshot{Orders: []model.Order{venueOrder("O-1", "V-1", "BTCUSDT.X", model.SideBuy, model.StatusAccepted)}},
		),
		Entry("side differs",
			func() {
				Expect(c.AddOrder(venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted))).To(Succeed())
			},
			model.AccountSnapshot{Orders: []model.Order{venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideSell, model.StatusAccepted)}},
		),
		Entry("client id bound to another venue order",
			func() {
				Expect(c.AddOrder(venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted))).To(Succeed())
			},
			model.AccountSnapshot{Orders: []model.Order{
				venueOrder("O-1", "V-1", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
				venueOrder("O-1", "V-9", "ETHUSDT.X", model.SideBuy, model.StatusAccepted),
			}},
		),
		Entry("position currency differs",
			func() { c.SetPosition(venuePosition("ETHUSDT.X", 1, "USDT")) },
			model.AccountSnapshot{Positions: []model.Position{venuePosition("ETHUSDT.X", 1, "USDC")}},
		),
		Entry("order from another venue",
			func() {},
			model.AccountSnapshot{Orders: []model.Order{func() model.Order {
				o := venueOrder("", "V-1", "ETHUSDT.Y", model.SideBuy, model.StatusAccepted)
				o.Venue = "Y"
				return o
			}()}},
		),
	)
})
