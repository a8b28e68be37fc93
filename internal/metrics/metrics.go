package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Requests            *prometheus.CounterVec
	ForwardDuration     *prometheus.HistogramVec
	BlockedDestinations *prometheus.CounterVec
	LogWriteFailures    prometheus.Counter
	PrunedLogs          prometheus.Counter
}

// NewMetrics creates relay metrics registered with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cnpj_relay_requests_total",
			Help: "Relay requests by direction and outcome",
		}, []string{"direction", "outcome"}),
		ForwardDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cnpj_relay_forward_duration_seconds",
			Help:    "Time spent waiting for webhook destinations",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
		BlockedDestinations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cnpj_relay_blocked_destinations_total",
			Help: "Relay attempts refused by the destination URL check",
		}, []string{"direction"}),
		LogWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cnpj_relay_log_write_failures_total",
			Help: "Relay log entries that could not be persisted",
		}),
		PrunedLogs: factory.NewCounter(prometheus.CounterOpts{
			Name: "cnpj_relay_pruned_logs_total",
			Help: "Relay log entries removed by the retention job",
		}),
	}
}
