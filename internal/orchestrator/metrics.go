package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the orchestration pipeline.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestLatency   prometheus.Histogram
	CacheHits        prometheus.Counter
	Iterations       prometheus.Histogram
	SalvagedPartials prometheus.Counter
	QueueDepth       prometheus.Gauge
	InFlight         prometheus.Gauge
}

// NewMetrics registers orchestrator metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "queryd",
				Subsystem: "orchestrator",
				Name:      "requests_total",
				Help:      "Total orchestrated requests by outcome",
			},
			[]string{"status"},
		),
		RequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "queryd",
			Subsystem: "orchestrator",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "queryd",
			Subsystem: "orchestrator",
			Name:      "cache_hits_total",
			Help:      "Requests satisfied from the result cache",
		}),
		Iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "queryd",
			Subsystem: "orchestrator",
			Name:      "quality_iterations",
			Help:      "Quality loop iterations per request",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		SalvagedPartials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "queryd",
			Subsystem: "orchestrator",
			Name:      "salvaged_partials_total",
			Help:      "Partial results returned after mid-loop failures",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "queryd",
			Subsystem: "orchestrator",
			Name:      "queue_depth",
			Help:      "Requests waiting for admission",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "queryd",
			Subsystem: "orchestrator",
			Name:      "in_flight",
			Help:      "Requests currently being processed",
		}),
	}
}
