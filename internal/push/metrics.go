package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	intents    *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	removed    *prometheus.CounterVec
	fanout     prometheus.Histogram
	duration   prometheus.Histogram
	enqueued   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		intents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatpush",
			Name:      "intents_total",
			Help:      "Notification intents processed, by recipient kind and result.",
		}, []string{"kind", "result"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatpush",
			Name:      "deliveries_total",
			Help:      "Push delivery attempts by outcome.",
		}, []string{"outcome"}),
		removed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatpush",
			Name:      "subscriptions_removed_total",
			Help:      "Subscriptions deleted after a permanent failure, by outcome.",
		}, []string{"outcome"}),
		fanout: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatpush",
			Name:      "fanout_subscriptions",
			Help:      "Subscriptions resolved per intent.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatpush",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent on a single push delivery attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		enqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatpush",
			Name:      "intents_enqueued_total",
			Help:      "Intents accepted onto the delivery queue.",
		}),
	}
}
