package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/internal/events"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/node"
)

// Module provides the status router and HTTP server. The server is started
// and stopped by the infrastructure lifecycle.
var Module = fx.Module("api",
	fx.Provide(
		NewRouter,
		NewHTTPServer,
	),
)

type RouterParams struct {
	fx.In

	Config   *config.Config
	Node     *node.TradingNode
	Bus      *events.Bus `optional:"true"`
	Gatherer prometheus.Gatherer
	Clock    clock.Clock
	Logger   *zap.Logger
}

func NewRouter(p RouterParams) *gin.Engine {
	var source EventSource
	if p.Bus != nil {
		source = p.Bus
	}
	return SetupRouter(p.Node, source, p.Gatherer, p.Logger, p.Config.API.CORSAllowOrigin, p.Clock)
}

// NewHTTPServer creates the status server. It does not listen until started.
func NewHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}
}
