// Package cli is the trading node command line: run a node, validate its
// configuration and describe the available adapters.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/backtesting-org/trading-node/internal/config"
)

// AppFactory builds the fx application for a loaded configuration.
type AppFactory func(cfg *config.Config) *fx.App

// NewRootCmd creates the root command
func NewRootCmd(newApp AppFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trading-node",
		Short:         "Live trading node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the node configuration file (YAML)")

	rootCmd.AddCommand(
		NewRunCmd(newApp),
		NewValidateCmd(),
		NewListAdaptersCmd(),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}
