package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/node"
)

const sampleYAML = `
trader_id: TESTER-001
timeouts:
  connection: 10s
  reconciliation: 3s
residual_check_interval: 1m
data_clients:
  binance:
    url: wss://stream.example.com/ws
    subscribe: [trades.ETHUSDT]
exec_clients:
  binance:
    fail_connect: false
  sim:
    currency: USDC
factories:
  binance: sandbox
portfolio:
  max_position_notional: "250000.5"
`

var _ = Describe("Load", func() {
	var dir string

	write := func(body string) string {
		path := filepath.Join(dir, "node.yaml")
		Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("applies defaults without a file", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.TraderID).To(Equal("TRADER-001"))
		Expect(cfg.CacheDatabase.Type).To(Equal("memory"))
		Expect(cfg.MaxConsecutiveFailures).To(Equal(5))
		Expect(cfg.Timeouts.Connection).To(Equal(node.DefaultTimeouts().Connection))
		Expect(cfg.Timeouts.StrategyStart).To(Equal(node.DefaultStrategyStart))
		Expect(cfg.API.Addr()).To(Equal("0.0.0.0:8081"))
		Expect(cfg.Alerts.Kafka.Enabled).To(BeFalse())
	})

	It("reads venues, factories and limits from YAML", func() {
		cfg, err := config.Load(write(sampleYAML))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Timeouts.Connection).To(Equal(10 * time.Second))
		Expect(cfg.ResidualCheckInterval).To(Equal(time.Minute))
		Expect(cfg.Venues()).To(ConsistOf(model.Venue("BINANCE"), model.Venue("SIM")))
		Expect(cfg.FactoryKind("BINANCE")).To(Equal("sandbox"))
		Expect(cfg.FactoryKind("SIM")).To(Equal("sim"))

		nc := cfg.NodeConfig()
		Expect(nc.TraderID).To(Equal("TESTER-001"))
		Expect(nc.DataClients).To(HaveKey(model.Venue("BINANCE")))
		Expect(nc.ExecClients[model.Venue("SIM")]).To(HaveKeyWithValue("currency", "USDC"))
		Expect(nc.Timeouts.Reconciliation).To(Equal(3 * time.Second))
		Expect(nc.ResidualCheckInterval).To(Equal(time.Minute))

		limits, err := cfg.PortfolioLimits()
		Expect(err).NotTo(HaveOccurred())
		Expect(limits.MaxPositionNotional.Equal(decimal.RequireFromString("250000.5"))).To(BeTrue())
		Expect(limits.MaxTotalExposure.IsZero()).To(BeTrue())
	})

	It("lets the environment override the file", func() {
		GinkgoT().Setenv("TRADING_NODE_TRADER_ID", "TESTER-ENV")
		GinkgoT().Setenv("TRADING_NODE_TIMEOUTS_CONNECTION", "42s")

		cfg, err := config.Load(write(sampleYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.TraderID).To(Equal("TESTER-ENV"))
		Expect(cfg.Timeouts.Connection).To(Equal(42 * time.Second))
	})

	It("fails on a missing file", func() {
		_, err := config.Load(filepath.Join(dir, "absent.yaml"))
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
	})

	DescribeTable("rejects invalid configuration",
		func(body, fragment string) {
			_, err := config.Load(write(body))
			Expect(err).To(MatchError(ContainSubstring("invalid configuration")))
			Expect(err).To(MatchError(MatchRegexp(fragment)))
		},
		Entry("negative timeout", "timeouts:\n  connection: -1s\n", "Connection"),
		Entry("unknown cache database", "cache_database:\n  type: sqlite\n", "Type"),
		Entry("postgres without dsn", "cache_database:\n  type: postgres\n", "dsn is required"),
		Entry("factory for an unknown venue", "factories:\n  kraken: sandbox\n", `factories\.kraken`),
		Entry("kafka without brokers", "alerts:\n  kafka:\n    enabled: true\n    brokers: []\n", "(?i)brokers"),
		Entry("non-numeric limit", "portfolio:\n  max_total_exposure: lots\n", "MaxTotalExposure"),
	)
})
