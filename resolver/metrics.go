package resolver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes.
const (
	outcomeOK           = "ok"
	outcomeError        = "error"
	outcomeDenied       = "denied"
	outcomeInvalid      = "invalid"
	outcomeShortCircuit = "short_circuit"
)

// Metrics are the operation metrics of a resolver.
type Metrics struct {
	operationsTotal          *prometheus.CounterVec
	operationDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them on reg unless it is
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veloql_operations_total",
				Help: "Total number of entity operations per entity, operation and outcome",
			},
			[]string{"entity", "operation", "outcome"},
		),
		operationDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veloql_operation_duration_seconds",
				Help:    "Duration of entity operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity", "operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operationsTotal, m.operationDurationSeconds)
	}
	return m
}

func (m *Metrics) observe(entity, op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(entity, op, outcome).Inc()
	m.operationDurationSeconds.WithLabelValues(entity, op).Observe(time.Since(start).Seconds())
}
