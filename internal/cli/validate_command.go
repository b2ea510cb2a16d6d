package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/connectors"
	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/node"
)

// NewValidateCmd creates the validate command. Besides the configuration
// itself it builds every configured client, so adapter parameters are
// checked too. Nothing is connected.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and every venue's adapter parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			registry, err := connectors.DefaultRegistry()
			if err != nil {
				return err
			}

			logger := zap.NewNop()
			n, err := node.NewTradingNode(cfg.NodeConfig(), logger, clock.NewLiveClock(),
				cache.NewCache(logger, nil), nil, nil, nil)
			if err != nil {
				return err
			}
			defer n.Dispose()

			if err := registry.Wire(n, cfg); err != nil {
				return err
			}
			if err := n.Build(context.Background()); err != nil {
				return err
			}
			if _, err := cfg.PortfolioLimits(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK: trader %s\n", cfg.TraderID)
			for _, h := range n.Handles() {
				fmt.Fprintf(out, "  %-20s %-10s %s\n", h.Venue, h.Role, cfg.FactoryKind(h.Venue))
			}
			return nil
		},
	}
}
