package venue_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/backtesting-org/trading-node/pkg/venue"
)

type binanceParams struct {
	AccountType string        `mapstructure:"account_type" validate:"required,oneof=spot margin futures"`
	BaseURLHTTP string        `mapstructure:"base_url_http" validate:"omitempty,url"`
	US          bool          `mapstructure:"us"`
	Sandbox     bool          `mapstructure:"sandbox_mode"`
	RecvWindow  time.Duration `mapstructure:"recv_window"`
	Symbols     []string      `mapstructure:"symbols"`
}

var _ = Describe("Params", func() {
	It("decodes loosely typed values", func() {
		params := venue.Params{
			"account_type":  "spot",
			"base_url_http": "https://api.binance.com",
			"us":            "true",
			"sandbox_mode":  true,
			"recv_window":   "5s",
			"symbols":       "ETHUSDT,BTCUSDT",
		}

		var out binanceParams
		Expect(params.Decode(&out)).To(Succeed())
		Expect(out.AccountType).To(Equal("spot"))
		Expect(out.US).To(BeTrue())
		Expect(out.Sandbox).To(BeTrue())
		Expect(out.RecvWindow).To(Equal(5 * time.Second))
		Expect(out.Symbols).To(Equal([]string{"ETHUSDT", "BTCUSDT"}))
	})

	It("validates decoded values", func() {
		var out binanceParams
		err := venue.Params{"account_type": "options"}.Decode(&out)
		Expect(err).To(MatchError(ContainSubstring("invalid venue params")))
	})

	It("clones without sharing the map", func() {
		params := venue.Params{"us": false}
		clone := params.Clone()
		clone["us"] = true

		Expect(params.Bool("us", true)).To(BeFalse())
		Expect(clone.Bool("us", false)).To(BeTrue())
		Expect(params.String("missing", "default")).To(Equal("default"))
	})
})
