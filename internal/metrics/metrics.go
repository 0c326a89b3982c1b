package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tourbook"

var (
	once sync.Once

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Backend requests by endpoint and result class.",
		},
		[]string{"endpoint", "result"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Backend request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	checkoutOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_outcomes_total",
			Help:      "Checkout attempts by outcome.",
		},
		[]string{"outcome"},
	)

	quotesSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_superseded_total",
			Help:      "Slot quote responses discarded because a newer request was issued.",
		},
	)

	windowInconsistent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_inconsistent_total",
			Help:      "Activities whose per-slot ceiling exceeds the per-day ceiling.",
		},
	)

	escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Paid-but-unconfirmed checkouts by delivery status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(apiRequests, apiDuration, checkoutOutcomes, quotesSuperseded, windowInconsistent, escalations)
	})
}

// ObserveAPI records one backend call.
func ObserveAPI(endpoint, result string, took time.Duration) {
	apiRequests.WithLabelValues(endpoint, result).Inc()
	apiDuration.WithLabelValues(endpoint).Observe(took.Seconds())
}

func IncCheckout(outcome string) {
	checkoutOutcomes.WithLabelValues(outcome).Inc()
}

func IncSuperseded() {
	quotesSuperseded.Inc()
}

func IncWindowInconsistent() {
	windowInconsistent.Inc()
}

func IncEscalation(status string) {
	escalations.WithLabelValues(status).Inc()
}
