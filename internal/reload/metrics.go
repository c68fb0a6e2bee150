package reload

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	reloadTotal    *prometheus.CounterVec
	reloadDuration prometheus.Histogram
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		reloadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gears",
			Name:      "rule_reloads_total",
			Help:      "Total number of rule reloads.",
		}, []string{"result"}),
		reloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gears",
			Name:      "rule_reload_duration_seconds",
			Help:      "Latency distribution for successful rule reloads.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
