package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Order write outcomes.
const (
	OrderWriteCreated  = "created"
	OrderWriteMerged   = "merged"
	OrderWriteRetried  = "retried"
	OrderWriteConflict = "conflict"
)

// OrderMetrics counts order aggregator writes and status transitions.
type OrderMetrics struct {
	writes      *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "writes_total",
		Help:      "Pending order writes by outcome.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Orders moved to history by terminal status.",
	}, []string{"status"})
	reg.MustRegister(writes, transitions)
	return &OrderMetrics{writes: writes, transitions: transitions}
}

func (m *OrderMetrics) IncWrite(outcome string) {
	if m == nil || m.writes == nil {
		return
	}
	m.writes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}
