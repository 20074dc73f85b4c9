package metrics

import "github.com/prometheus/client_golang/prometheus"

// Inference and transport Prometheus metrics.
var (
	InferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasentinel",
			Name:      "inference_requests_total",
			Help:      "Total number of reconstruct calls",
		},
		[]string{"backend", "status"}, // "ok" / "invalid_input" / "error"
	)

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datasentinel",
			Name:      "inference_duration_seconds",
			Help:      "Reconstruct duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		},
		[]string{"backend"},
	)

	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasentinel",
			Name:      "detections_total",
			Help:      "Evaluated samples by verdict",
		},
		[]string{"status"}, // "OK" / "ANOMALY"
	)

	TCPSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datasentinel",
			Name:      "tcp_sessions_active",
			Help:      "Open TCP client sessions",
		},
	)

	TCPRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasentinel",
			Name:      "tcp_replies_total",
			Help:      "TCP replies by kind",
		},
		[]string{"reply"},
	)
)

var inferenceMetricsRegistered bool

// RegisterInferenceMetrics registers inference and TCP metrics. Must be called once from main.
func RegisterInferenceMetrics() {
	if inferenceMetricsRegistered {
		return
	}
	prometheus.MustRegister(InferenceRequestsTotal)
	prometheus.MustRegister(InferenceDuration)
	prometheus.MustRegister(DetectionsTotal)
	prometheus.MustRegister(TCPSessionsActive)
	prometheus.MustRegister(TCPRepliesTotal)
	inferenceMetricsRegistered = true
}
