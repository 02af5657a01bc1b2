package personas

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the routing layer.
type Metrics struct {
	ClassificationCount   *prometheus.CounterVec
	ClassificationLatency prometheus.Histogram
	FallbackCount         prometheus.Counter
	ExecutionCount        *prometheus.CounterVec
	ExecutionLatency      *prometheus.HistogramVec
}

// NewMetrics registers routing metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClassificationCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "queryd",
				Subsystem: "router",
				Name:      "classifications_total",
				Help:      "Total number of prompt classifications",
			},
			[]string{"persona"},
		),
		ClassificationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "queryd",
			Subsystem: "router",
			Name:      "classification_duration_seconds",
			Help:      "Duration of prompt classification in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		FallbackCount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "queryd",
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Classifications that fell back to the research persona",
		}),
		ExecutionCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "queryd",
				Subsystem: "router",
				Name:      "executions_total",
				Help:      "Total persona executions by outcome",
			},
			[]string{"persona", "status"},
		),
		ExecutionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "queryd",
				Subsystem: "router",
				Name:      "execution_duration_seconds",
				Help:      "Duration of persona executions in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"persona"},
		),
	}
}

// RecordClassification records one Classify call.
func (m *Metrics) RecordClassification(persona string, fallback bool, latency time.Duration) {
	m.ClassificationCount.WithLabelValues(persona).Inc()
	m.ClassificationLatency.Observe(latency.Seconds())
	if fallback {
		m.FallbackCount.Inc()
	}
}

// RecordExecution records one backend dispatch attributed to a persona.
func (m *Metrics) RecordExecution(persona string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.ExecutionCount.WithLabelValues(persona, status).Inc()
	m.ExecutionLatency.WithLabelValues(persona).Observe(latency.Seconds())
}
