package node

import (
	"time"

	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the node's Prometheus collectors.
type Metrics struct {
	State           prometheus.Gauge
	ClientState     *prometheus.GaugeVec
	PhaseDuration   *prometheus.HistogramVec
	ReconcileDiffs  *prometheus.CounterVec
	ResidualOrders  *prometheus.CounterVec
	ClientFailures  *prometheus.CounterVec
	DisconnectFault *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trading_node_state",
			Help: "Current node lifecycle state (0=created .. 6=faulted).",
		}),
		ClientState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trading_node_client_state",
			Help: "Current client handle state (0=uninitialized .. 7=failed).",
		}, []string{"venue", "role"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trading_node_phase_duration_seconds",
			Help:    "Duration of node lifecycle phases.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"phase"}),
		ReconcileDiffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_node_reconciliation_diffs_total",
			Help: "Differences applied by reconciliation, by kind.",
		}, []string{"venue", "kind"}),
		ResidualOrders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_node_residual_orders_total",
			Help: "Venue orders found unknown to the cache after startup.",
		}, []string{"venue"}),
		ClientFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_node_client_failures_total",
			Help: "Runtime failures reported by clients.",
		}, []string{"venue", "role"}),
		DisconnectFault: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_node_disconnection_timeouts_total",
			Help: "Clients force-disposed after exceeding the disconnection timeout.",
		}, []string{"venue", "role"}),
	}
}

func (m *Metrics) setState(s State) {
	m.State.Set(float64(s))
}

func (m *Metrics) setClientState(v model.Venue, role venue.Role, s ClientState) {
	m.ClientState.WithLabelValues(string(v), string(role)).Set(float64(s))
}

func (m *Metrics) observePhase(p Phase, d time.Duration) {
	m.PhaseDuration.WithLabelValues(string(p)).Observe(d.Seconds())
}

func (m *Metrics) observeReport(r model.ReconciliationReport) {
	v := string(r.Venue)
	m.ReconcileDiffs.WithLabelValues(v, "external_order").Add(float64(len(r.ExternalOrders)))
	m.ReconcileDiffs.WithLabelValues(v, "closed_order").Add(float64(len(r.ClosedOrders)))
	m.ReconcileDiffs.WithLabelValues(v, "order_update").Add(float64(len(r.OrderUpdates)))
	m.ReconcileDiffs.WithLabelValues(v, "position_mismatch").Add(float64(len(r.PositionMismatches)))
}
