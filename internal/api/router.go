// Package api serves the node's read-only status surface: liveness,
// readiness, client handles, recent events and prometheus metrics.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/events"
	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/node"
)

// NodeStatus is the part of the trading node the API reads.
type NodeStatus interface {
	TraderID() string
	InstanceID() string
	State() node.State
	Err() error
	Handles() []node.HandleStatus
	Cache() *cache.Cache
}

// EventSource supplies the recent event history. Optional.
type EventSource interface {
	Recent(n int) []events.Event
}

type StatusResponse struct {
	TraderID   string              `json:"trader_id"`
	InstanceID string              `json:"instance_id"`
	State      string              `json:"state"`
	Error      string              `json:"error,omitempty"`
	Clients    []node.HandleStatus `json:"clients"`
	Cache      CacheStatus         `json:"cache"`
}

type CacheStatus struct {
	Version    uint64 `json:"version"`
	Orders     int    `json:"orders"`
	OpenOrders int    `json:"open_orders"`
	Positions  int    `json:"positions"`
}

// SetupRouter sets up the API router
func SetupRouter(
	n NodeStatus,
	eventSource EventSource,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
	corsAllowOrigin string,
	clk clock.Clock,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	logger = logger.Named("api")

	// Middleware
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(LoggerMiddleware(logger, clk))

	config := cors.Config{
		AllowOrigins:     []string{corsAllowOrigin},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: corsAllowOrigin != "*",
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(config))

	// Liveness: the process is serving.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "trading-node",
		})
	})

	// Readiness: the node finished startup and is trading.
	router.GET("/ready", func(c *gin.Context) {
		state := n.State()
		code := http.StatusOK
		if state != node.StateRunning {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"state": state.String()})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, buildStatus(n))
		})

		v1.GET("/orders", func(c *gin.Context) {
			snap := n.Cache().ReadSnapshot()
			if c.Query("open") == "true" {
				c.JSON(http.StatusOK, orEmpty(snap.OpenOrders("")))
				return
			}
			c.JSON(http.StatusOK, orEmpty(snap.Orders()))
		})

		v1.GET("/positions", func(c *gin.Context) {
			c.JSON(http.StatusOK, orEmpty(n.Cache().ReadSnapshot().Positions()))
		})

		v1.GET("/events", func(c *gin.Context) {
			limit := 0
			if raw := c.Query("limit"); raw != "" {
				l, err := strconv.Atoi(raw)
				if err != nil || l < 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
					return
				}
				limit = l
			}
			if eventSource == nil {
				c.JSON(http.StatusOK, []events.Event{})
				return
			}
			c.JSON(http.StatusOK, eventSource.Recent(limit))
		})
	}

	return router
}

func buildStatus(n NodeStatus) StatusResponse {
	resp := StatusResponse{
		TraderID:   n.TraderID(),
		InstanceID: n.InstanceID(),
		State:      n.State().String(),
		Clients:    n.Handles(),
	}
	if err := n.Err(); err != nil {
		resp.Error = err.Error()
	}
	resp.Clients = orEmpty(resp.Clients)

	snap := n.Cache().ReadSnapshot()
	resp.Cache = CacheStatus{
		Version:    snap.Version(),
		Orders:     len(snap.Orders()),
		OpenOrders: len(snap.OpenOrders("")),
		Positions:  len(snap.Positions()),
	}
	return resp
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// LoggerMiddleware creates a Gin middleware for logging
func LoggerMiddleware(logger *zap.Logger, clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := clk.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := clk.Since(start)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				logger.Error("Request error", zap.String("error", e))
			}
			return
		}

		logger.Debug("Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", latency),
		)
	}
}
