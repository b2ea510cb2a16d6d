package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/fx"

	"github.com/backtesting-org/trading-node/internal/cli"
	"github.com/backtesting-org/trading-node/internal/config"
)

var errBoom = errors.New("boom")

var _ = Describe("Commands", func() {
	var (
		out     *bytes.Buffer
		newApp  cli.AppFactory
		execute func(args ...string) error
	)

	BeforeEach(func() {
		out = &bytes.Buffer{}
		newApp = func(*config.Config) *fx.App { return fx.New(fx.NopLogger) }
		execute = func(args ...string) error {
			root := cli.NewRootCmd(newApp)
			root.SetOut(out)
			root.SetErr(out)
			root.SetArgs(args)
			return root.ExecuteContext(context.Background())
		}
	})

	writeConfig := func(body string) string {
		path := filepath.Join(GinkgoT().TempDir(), "node.yaml")
		Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
		return path
	}

	Describe("list-adapters", func() {
		It("describes every adapter", func() {
			Expect(execute("list-adapters")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("sandbox (data, execution)"))
			Expect(out.String()).To(ContainSubstring("wsfeed (data)"))
			Expect(out.String()).To(MatchRegexp(`\* url\s+\[string\]`))
		})

		It("emits JSON on request", func() {
			Expect(execute("list-adapters", "--json")).To(Succeed())

			var providers []map[string]any
			Expect(json.Unmarshal(out.Bytes(), &providers)).To(Succeed())
			Expect(providers).To(HaveLen(2))
			Expect(providers[0]).To(HaveKeyWithValue("kind", "sandbox"))
		})
	})

	Describe("validate", func() {
		It("accepts a sandbox configuration", func() {
			path := writeConfig(`
trader_id: TESTER-001
exec_clients:
  sim:
    orders:
      - {venue_order_id: V-1, instrument: ETHUSDT.SIM, side: BUY, quantity: "1"}
factories:
  sim: sandbox
`)
			Expect(execute("validate", "--config", path)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Configuration OK: trader TESTER-001"))
			Expect(out.String()).To(MatchRegexp(`SIM\s+execution\s+sandbox`))
		})

		It("reports invalid adapter parameters", func() {
			path := writeConfig(`
data_clients:
  feed:
    subscribe: [trades.ETHUSDT]
factories:
  feed: wsfeed
`)
			err := execute("validate", "--config", path)
			Expect(err).To(MatchError(ContainSubstring("invalid venue params")))
		})

		It("reports an unknown adapter kind", func() {
			path := writeConfig(`
exec_clients:
  kraken:
    currency: USD
`)
			Expect(execute("validate", "-c", path)).To(MatchError(ContainSubstring("no adapter registered for kind: kraken")))
		})
	})

	Describe("run", func() {
		It("returns the exit code the application shuts down with", func() {
			newApp = func(*config.Config) *fx.App {
				return fx.New(fx.NopLogger, fx.Invoke(func(lc fx.Lifecycle, s fx.Shutdowner) {
					lc.Append(fx.StartHook(func() {
						go func() { _ = s.Shutdown(fx.ExitCode(3)) }()
					}))
				}))
			}

			err := execute("run")
			var exit *cli.ExitError
			Expect(err).To(BeAssignableToTypeOf(exit))
			Expect(err.(*cli.ExitError).Code).To(Equal(3))
		})

		It("fails when the application cannot start", func() {
			newApp = func(*config.Config) *fx.App {
				return fx.New(fx.NopLogger, fx.Invoke(func(lc fx.Lifecycle) {
					lc.Append(fx.StartHook(func(context.Context) error {
						return errBoom
					}))
				}))
			}
			Expect(execute("run")).To(MatchError(errBoom))
		})

		It("stops on a config error before assembling anything", func() {
			called := false
			newApp = func(*config.Config) *fx.App {
				called = true
				return fx.New(fx.NopLogger)
			}
			Expect(execute("run", "--config", "/nonexistent/node.yaml")).To(MatchError(ContainSubstring("failed to read config file")))
			Expect(called).To(BeFalse())
		})
	})
})
