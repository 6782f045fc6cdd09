package webhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveryCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moltguard_webhook_deliveries_total",
	Help: "Number of webhook delivery attempts by outcome",
}, []string{"event", "outcome"})

var deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "moltguard_webhook_delivery_duration_sec",
	Help:    "Duration of webhook delivery attempts",
	Buckets: prometheus.DefBuckets,
}, []string{"event"})

var deactivationCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moltguard_webhook_deactivations_total",
	Help: "Number of subscriptions switched off after repeated failures",
})

var dispatchPanicCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moltguard_webhook_dispatch_panics_total",
	Help: "Number of recovered panics in dispatch workers",
})
