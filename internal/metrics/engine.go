package metrics

import "github.com/prometheus/client_golang/prometheus"

// Compiled engine cache Prometheus metrics.
var (
	EngineCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasentinel",
			Name:      "engine_cache_total",
			Help:      "Compiled engine lookups by outcome",
		},
		[]string{"result"}, // "hit" / "miss" / "remote_hit" / "remote_invalid" / "stale"
	)

	EngineBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "datasentinel",
			Name:      "engine_build_duration_seconds",
			Help:      "Compiled engine build duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
)

var engineMetricsRegistered bool

// RegisterEngineMetrics registers compiled engine metrics. Must be called once from main.
func RegisterEngineMetrics() {
	if engineMetricsRegistered {
		return
	}
	prometheus.MustRegister(EngineCacheTotal)
	prometheus.MustRegister(EngineBuildDuration)
	engineMetricsRegistered = true
}
