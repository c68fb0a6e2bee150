package rules

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	eventsTotal     *prometheus.CounterVec
	predicateTotal  *prometheus.CounterVec
	actionTotal     *prometheus.CounterVec
	compileFailures prometheus.Counter

	duration *prometheus.HistogramVec

	rules prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		eventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gears",
			Name:      "events_total",
			Help:      "Total number of events broadcast to the rule table.",
		}, []string{"entity_type"}),
		predicateTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gears",
			Name:      "predicate_evaluations_total",
			Help:      "Total number of predicate evaluations.",
		}, []string{"result"}),
		actionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gears",
			Name:      "action_runs_total",
			Help:      "Total number of action runs.",
		}, []string{"result"}),
		compileFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "gears",
			Name:      "rule_compile_failures_total",
			Help:      "Total number of rule stories that failed to compile.",
		}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gears",
			Name:      "rule_duration_seconds",
			Help:      "Latency distribution for predicate and action invocations.",
			Buckets: []float64{
				0.0005, 0.001, 0.005,
				0.01, 0.05,
				0.1, 0.5,
				1, 5, 30,
			},
		}, []string{"phase"}),
		rules: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "gears",
			Name:      "rules_active",
			Help:      "Number of predicates in the active rule table.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
