package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FeedMetrics tracks open realtime subscriptions and emitted notices.
type FeedMetrics struct {
	subscriptions *prometheus.GaugeVec
	notices       *prometheus.CounterVec
}

func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	if reg == nil {
		return &FeedMetrics{}
	}
	subscriptions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "subscriptions",
		Help:      "Open feed subscriptions by topic.",
	}, []string{"topic"})
	notices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "notices_total",
		Help:      "Order notices emitted to dashboards by kind.",
	}, []string{"kind"})
	reg.MustRegister(subscriptions, notices)
	return &FeedMetrics{subscriptions: subscriptions, notices: notices}
}

// SubscriptionOpened and SubscriptionClosed must be called in pairs.
func (m *FeedMetrics) SubscriptionOpened(topic string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *FeedMetrics) SubscriptionClosed(topic string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(topic)).Dec()
}

func (m *FeedMetrics) IncNotice(kind string) {
	if m == nil || m.notices == nil {
		return
	}
	m.notices.WithLabelValues(normalizeLabel(kind)).Inc()
}
