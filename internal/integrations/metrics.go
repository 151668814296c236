package integrations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentwarden"

var (
	// FanoutTasksTotal counts dispatched adapter tasks by outcome.
	FanoutTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrations",
			Name:      "fanout_tasks_total",
			Help:      "Number of integration fan-out tasks by adapter and result",
		},
		[]string{"adapter", "result"},
	)

	// FanoutDuration tracks adapter task latency.
	FanoutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "integrations",
			Name:      "fanout_duration_seconds",
			Help:      "Integration fan-out task duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"adapter"},
	)

	// FanoutInflight tracks tasks currently running or queued.
	FanoutInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "integrations",
			Name:      "fanout_inflight",
			Help:      "Number of integration fan-out tasks in flight",
		},
	)
)
