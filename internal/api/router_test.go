package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/api"
	"github.com/backtesting-org/trading-node/internal/events"
	"github.com/backtesting-org/trading-node/pkg/adapters/sandbox"
	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

var _ = Describe("Router", func() {
	var (
		reg *prometheus.Registry
		bus *events.Bus
		n   *node.TradingNode
	)

	newNode := func(exec venue.Params) *node.TradingNode {
		clk := clock.NewLiveClock()
		bus = events.NewBus(clk, zap.NewNop())
		reg = prometheus.NewRegistry()
		tn, err := node.NewTradingNode(node.Config{
			TraderID:    "TESTER-001",
			ExecClients: map[model.Venue]venue.Params{"SIM": exec},
			Timeouts:    node.DefaultTimeouts(),
		}, zap.NewNop(), clk, cache.NewCache(zap.NewNop(), nil), nil, node.NewMetrics(reg), bus)
		Expect(err).NotTo(HaveOccurred())
		Expect(tn.AddExecClientFactory("SIM", sandbox.ExecFactory())).To(Succeed())
		return tn
	}

	get := func(path string) *httptest.ResponseRecorder {
		router := api.SetupRouter(n, bus, reg, zap.NewNop(), "*", clock.NewLiveClock())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(rec, req)
		return rec
	}

	AfterEach(func() {
		n.Dispose()
	})

	Context("before start", func() {
		BeforeEach(func() {
			n = newNode(venue.Params{})
		})

		It("is live but not ready", func() {
			Expect(get("/health").Code).To(Equal(http.StatusOK))

			rec := get("/ready")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(MatchJSON(`{"state":"CREATED"}`))
		})

		It("serves an empty event list without a history", func() {
			router := api.SetupRouter(n, nil, reg, zap.NewNop(), "*", clock.NewLiveClock())
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
			Expect(rec.Body.String()).To(MatchJSON(`[]`))
		})

		It("rejects a malformed limit", func() {
			Expect(get("/api/v1/events?limit=abc").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("once running", func() {
		BeforeEach(func() {
			n = newNode(venue.Params{"orders": []map[string]any{{
				"venue_order_id": "V-1",
				"instrument":     "ETHUSDT.SIM",
				"side":           "BUY",
				"quantity":       "1",
			}}})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(n.Build(ctx)).To(Succeed())
			Expect(n.Start(ctx)).To(Succeed())
		})

		It("reports readiness", func() {
			Expect(get("/ready").Code).To(Equal(http.StatusOK))
		})

		It("reports node, client and cache status", func() {
			rec := get("/api/v1/status")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var status api.StatusResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
			Expect(status.TraderID).To(Equal("TESTER-001"))
			Expect(status.InstanceID).To(Equal(n.InstanceID()))
			Expect(status.State).To(Equal("RUNNING"))
			Expect(status.Clients).To(ConsistOf(node.HandleStatus{Venue: "SIM", Role: venue.RoleExecution, State: "RUNNING"}))
			Expect(status.Cache.Orders).To(Equal(1))
			Expect(status.Cache.OpenOrders).To(Equal(1))
		})

		It("lists cached orders", func() {
			var orders []model.Order
			Expect(json.Unmarshal(get("/api/v1/orders?open=true").Body.Bytes(), &orders)).To(Succeed())
			Expect(orders).To(HaveLen(1))
			Expect(orders[0].VenueOrderID).To(Equal("V-1"))
			Expect(orders[0].External).To(BeTrue())
		})

		It("returns recent node events", func() {
			var evs []events.Event
			Expect(json.Unmarshal(get("/api/v1/events?limit=1").Body.Bytes(), &evs)).To(Succeed())
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].Type).To(Equal(events.EventNodeState))
			Expect(evs[0].Data).To(HaveKeyWithValue("to", "RUNNING"))
		})

		It("exposes node metrics", func() {
			rec := get("/metrics")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("trading_node_state 3"))
			Expect(rec.Body.String()).To(ContainSubstring(`trading_node_reconciliation_diffs_total{kind="external_order",venue="SIM"} 1`))
		})
	})
})
