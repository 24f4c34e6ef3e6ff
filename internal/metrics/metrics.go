package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "telemetry_int"

var (
	DispatchedRules = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "rules_total",
			Help:      "Total number of rules handed to the flow manager",
		},
		[]string{"command"},
	)

	DispatchedBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batches_total",
			Help:      "Total number of rule batches sent, by result",
		},
		[]string{"command", "result"},
	)

	DispatchQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_length",
			Help:      "Number of batches waiting to be sent",
		},
	)

	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "operations_total",
			Help:      "Total number of lifecycle operations, by result",
		},
		[]string{"operation", "result"},
	)

	RepositoryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "requests_total",
			Help:      "Total number of repository requests, by result",
		},
		[]string{"method", "result"},
	)

	EventFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event",
			Name:      "failures_total",
			Help:      "Total number of event reactions that ended in error",
		},
		[]string{"event"},
	)
)

// Result labels an outcome for the counters above.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
