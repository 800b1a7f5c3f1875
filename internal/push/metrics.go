package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_delivered_total",
		Help: "Push messages accepted by a push service.",
	})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_failed_total",
		Help: "Push deliveries that failed (network, rejection or malformed subscription).",
	})
	cleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_subscriptions_cleaned_total",
		Help: "Subscriptions deleted after the push service reported them gone (404/410).",
	})
	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "push_dispatch_duration_seconds",
		Help:    "Wall time of a full fan-out, from first send to last settle.",
		Buckets: prometheus.DefBuckets,
	})
)
