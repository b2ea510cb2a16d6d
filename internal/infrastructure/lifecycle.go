package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/internal/connectors"
	"github.com/backtesting-org/trading-node/pkg/node"
)

// LifecycleParams are the components whose start and stop the process drives.
type LifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Node       *node.TradingNode
	Registry   *connectors.Registry
	Server     *http.Server `optional:"true"`
	Logger     *zap.Logger
}

// RegisterLifecycle sets up application startup and shutdown hooks
func RegisterLifecycle(p LifecycleParams) {
	logger := p.Logger.Named("lifecycle")

	if p.Server != nil {
		p.Lifecycle.Append(serverHook(p.Server, p.Shutdowner, logger))
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := startNode(ctx, p.Node, p.Registry, p.Config); err != nil {
				p.Node.Dispose()
				return err
			}
			go watchNode(p.Node, p.Shutdowner, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Disposing node...")

			disposed := make(chan struct{})
			go func() {
				defer close(disposed)
				p.Node.Dispose()
			}()

			select {
			case <-disposed:
				logger.Info("Node stopped", zap.Stringer("state", p.Node.State()))
				return nil
			case <-ctx.Done():
				return fmt.Errorf("node did not stop in time: %w", ctx.Err())
			}
		},
	})
}

func startNode(ctx context.Context, n *node.TradingNode, registry *connectors.Registry, cfg *config.Config) error {
	if err := registry.Wire(n, cfg); err != nil {
		return fmt.Errorf("failed to wire adapters: %w", err)
	}
	if err := n.Build(ctx); err != nil {
		return fmt.Errorf("failed to build node: %w", err)
	}
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	return nil
}

// watchNode ends the process when the node leaves Running on its own.
func watchNode(n *node.TradingNode, shutdowner fx.Shutdowner, logger *zap.Logger) {
	<-n.Done()
	if n.State() != node.StateFaulted {
		return
	}

	logger.Error("Node faulted, shutting down", zap.Error(n.Err()))
	if err := shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
		logger.Error("Failed to request shutdown", zap.Error(err))
	}
}

func serverHook(server *http.Server, shutdowner fx.Shutdowner, logger *zap.Logger) fx.Hook {
	return fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
			}

			go func() {
				logger.Info("Status server started", zap.String("address", ln.Addr().String()))

				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Status server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down status server...")

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("Status server forced to shutdown", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
