package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds the Prometheus metrics for the analytics pipeline.
type PipelineMetrics struct {
	EventsPushed       *prometheus.CounterVec
	EventsDelivered    *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	PendingQueued      prometheus.Counter
	PendingReplayed    prometheus.Counter
	PendingStale       prometheus.Counter
}

// New initializes and registers the pipeline metrics on the default
// registerer.
func New() *PipelineMetrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith initializes the pipeline metrics against a specific registerer.
// Tests pass a fresh registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		EventsPushed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pipeline",
			Name:      "events_pushed_total",
			Help:      "Total number of events pushed into the pipeline, by event name.",
		}, []string{"event"}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pipeline",
			Name:      "events_delivered_total",
			Help:      "Total number of adapter deliveries, by provider and outcome.",
		}, []string{"provider", "outcome"}), // outcome: ok, error
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pipeline",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped before fan-out, by reason.",
		}, []string{"reason"}), // reason: disabled, transform, stale
		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pipeline",
			Name:      "validation_failures_total",
			Help:      "Total number of events that failed schema validation, by event name.",
		}, []string{"event"}),
		PendingQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pending",
			Name:      "queued_total",
			Help:      "Total number of redirect-bound events queued for replay.",
		}),
		PendingReplayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pending",
			Name:      "replayed_total",
			Help:      "Total number of queued events replayed after navigation.",
		}),
		PendingStale: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "pending",
			Name:      "stale_dropped_total",
			Help:      "Total number of queued events dropped as stale at replay time.",
		}),
	}
}
