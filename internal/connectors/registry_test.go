package connectors_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/internal/connectors"
	"github.com/backtesting-org/trading-node/pkg/adapters/sandbox"
	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/node"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

var _ = Describe("Registry", func() {
	var registry *connectors.Registry

	BeforeEach(func() {
		var err error
		registry, err = connectors.DefaultRegistry()
		Expect(err).NotTo(HaveOccurred())
	})

	newNode := func(cfg *config.Config) *node.TradingNode {
		n, err := node.NewTradingNode(cfg.NodeConfig(), zap.NewNop(), clock.NewLiveClock(),
			cache.NewCache(zap.NewNop(), nil), nil, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(n.Dispose)
		return n
	}

	It("lists the built-in adapters by kind", func() {
		providers := registry.List()
		Expect(providers).To(HaveLen(2))
		Expect(providers[0].Kind).To(Equal("sandbox"))
		Expect(providers[0].Roles()).To(Equal([]venue.Role{venue.RoleData, venue.RoleExecution}))
		Expect(providers[1].Kind).To(Equal("wsfeed"))
		Expect(providers[1].Roles()).To(Equal([]venue.Role{venue.RoleData}))
	})

	It("looks kinds up case-insensitively", func() {
		p, err := registry.Get("SANDBOX")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Kind).To(Equal(sandbox.Kind))

		_, err = registry.Get("kraken")
		Expect(err).To(MatchError(connectors.ErrUnknownKind))
	})

	It("refuses duplicate and empty providers", func() {
		Expect(registry.Register(connectors.Provider{Kind: "Sandbox", Data: sandbox.DataFactory()})).
			To(MatchError(ContainSubstring("already registered")))
		Expect(registry.Register(connectors.Provider{Kind: "noop"})).
			To(MatchError(ContainSubstring("no factories")))
		Expect(registry.Register(connectors.Provider{Data: sandbox.DataFactory()})).
			To(MatchError(ContainSubstring("kind is required")))
	})

	It("wires configured venues so the node can build", func() {
		cfg := &config.Config{
			TraderID:    "TESTER-001",
			DataClients: map[string]map[string]any{"sim": {}},
			ExecClients: map[string]map[string]any{"paper": {}},
			Factories:   map[string]string{"paper": "Sandbox"},
			Timeouts: config.TimeoutsConfig{
				Connection:     node.DefaultTimeouts().Connection,
				Reconciliation: node.DefaultTimeouts().Reconciliation,
			},
		}
		n := newNode(cfg)

		// "sim" has no factory entry and no adapter of that name
		Expect(registry.Wire(n, cfg)).To(MatchError(connectors.ErrUnknownKind))

		cfg.Factories["sim"] = "sandbox"
		n = newNode(cfg)
		Expect(registry.Wire(n, cfg)).To(Succeed())
		Expect(n.Build(context.Background())).To(Succeed())
		Expect(n.Handles()).To(HaveLen(2))
	})

	It("rejects an adapter in a role it cannot serve", func() {
		cfg := &config.Config{
			TraderID:    "TESTER-001",
			ExecClients: map[string]map[string]any{"feed": {}},
			Factories:   map[string]string{"feed": "wsfeed"},
		}
		err := registry.Wire(newNode(cfg), cfg)
		Expect(err).To(MatchError(connectors.ErrUnsupportedRole))
		Expect(err).To(MatchError(ContainSubstring("exec client FEED")))
	})
})
