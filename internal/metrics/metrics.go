package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "banknode_connections_active",
			Help: "Current client connections",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "banknode_connections_total",
			Help: "Total client connections accepted",
		},
	)

	ConnectionTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "banknode_connection_timeouts_total",
			Help: "Connections closed by the idle timeout",
		},
	)

	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banknode_commands_total",
			Help: "Commands handled by code and outcome (local, forwarded, error)",
		},
		[]string{"code", "outcome"},
	)

	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banknode_proxy_requests_total",
			Help: "Outbound proxy round trips by result",
		},
		[]string{"result"},
	)

	ProxyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "banknode_proxy_duration_seconds",
			Help:    "Outbound proxy round trip latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	RobberyPlans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "banknode_robbery_plans_total",
			Help: "Robbery plans computed",
		},
	)

	RobberyCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "banknode_robbery_candidates",
			Help: "Banks that answered the last robbery plan probe",
		},
	)
)

// Command outcomes.
const (
	OutcomeLocal     = "local"
	OutcomeForwarded = "forwarded"
	OutcomeError     = "error"
)

// Proxy results.
const (
	ResultOK          = "ok"
	ResultUnavailable = "unavailable"
	ResultOpen        = "breaker_open"
)
