package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	predictionsTotal       *prometheus.CounterVec
	predictionScore        prometheus.Histogram
	encodingFallbacksTotal *prometheus.CounterVec
	modelLoaded            prometheus.Gauge
	alertsPublishedTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the risk API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "risk_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		predictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_predictions_total",
			Help: "Number of scored students by risk level.",
		}, []string{"level"})

		predictionScore = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_prediction_score",
			Help:    "Distribution of final risk scores.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		})

		encodingFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_encoding_fallbacks_total",
			Help: "Categorical values that were unknown to the trained encoders.",
		}, []string{"field"})

		modelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_model_loaded",
			Help: "1 when the model bundle is loaded, 0 otherwise.",
		})

		alertsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_alerts_published_total",
			Help: "High-risk alerts published per transport.",
		}, []string{"transport"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			predictionsTotal,
			predictionScore,
			encodingFallbacksTotal,
			modelLoaded,
			alertsPublishedTotal,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// Predictions exposes the per-level prediction counter.
func Predictions() *prometheus.CounterVec {
	RegisterMetrics()
	return predictionsTotal
}

// PredictionScore exposes the risk score histogram.
func PredictionScore() prometheus.Histogram {
	RegisterMetrics()
	return predictionScore
}

// EncodingFallbacks exposes the unknown categorical counter.
func EncodingFallbacks() *prometheus.CounterVec {
	RegisterMetrics()
	return encodingFallbacksTotal
}

// ModelLoaded exposes the model availability gauge.
func ModelLoaded() prometheus.Gauge {
	RegisterMetrics()
	return modelLoaded
}

// AlertsPublished exposes the alert counter.
func AlertsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return alertsPublishedTotal
}
