package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by method (password|magic_link) and result.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duocal_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"},
	)

	// ActiveSessions tracks refresh sessions issued and not yet revoked or expired.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duocal_active_sessions",
			Help: "Number of active refresh sessions",
		},
	)

	// PartnerTransitions counts pairing operations by operation and outcome code.
	PartnerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duocal_partner_transitions_total",
			Help: "Pairing operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// PartnerLinkViolations reports asymmetric partner links found by the last consistency check.
	PartnerLinkViolations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duocal_partner_link_violations",
			Help: "Asymmetric partner links detected by the last consistency check",
		},
	)

	// MaintenanceRuns counts background job executions by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duocal_maintenance_runs_total",
			Help: "Background maintenance job executions",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duocal_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
