package bot

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the bot update counters.
type Metrics struct {
	UpdateProcessingTime prometheus.Histogram
	CommandsProcessed    *prometheus.CounterVec
	ErrorsTotal          prometheus.Counter
}

// NewMetrics registers the bot metrics with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdateProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tourbook",
			Subsystem: "bot",
			Name:      "update_processing_time_seconds",
			Help:      "Time spent processing updates",
			Buckets:   prometheus.DefBuckets,
		}),
		CommandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourbook",
			Subsystem: "bot",
			Name:      "commands_total",
			Help:      "Commands received, by command",
		}, []string{"command"}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tourbook",
			Subsystem: "bot",
			Name:      "handler_panics_total",
			Help:      "Update handlers that panicked",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.UpdateProcessingTime, m.CommandsProcessed, m.ErrorsTotal)
	}
	return m
}
