package metrics

import "github.com/prometheus/client_golang/prometheus"

// External model call metrics: encoder embeddings, chat completions, rerank.
var (
	EncoderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visualmem",
			Name:      "encoder_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "input", "status"}, // input: "text" / "image"
	)

	EncoderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visualmem",
			Name:      "encoder_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model", "input"},
	)

	EncoderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visualmem",
			Name:      "encoder_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"model", "type"},
	)

	EncoderCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visualmem",
			Name:      "encoder_cache_total",
			Help:      "Query embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visualmem",
			Name:      "chat_requests_total",
			Help:      "Total number of chat completion requests",
		},
		[]string{"model", "purpose", "status"}, // purpose: "rewrite" / "window" / "narrate"
	)

	ChatRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visualmem",
			Name:      "chat_request_duration_seconds",
			Help:      "Chat completion request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model", "purpose"},
	)

	RerankRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visualmem",
			Name:      "rerank_requests_total",
			Help:      "Total number of cross-encoder rerank requests",
		},
		[]string{"model", "status"},
	)

	RerankFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visualmem",
			Name:      "rerank_fallbacks_total",
			Help:      "Rerank strategy fallbacks by degraded-to strategy",
		},
		[]string{"from", "to"},
	)
)

var modelMetricsRegistered bool

// RegisterModelMetrics registers Prometheus model metrics. Must be called once from main.
func RegisterModelMetrics() {
	if modelMetricsRegistered {
		return
	}
	prometheus.MustRegister(EncoderRequestsTotal)
	prometheus.MustRegister(EncoderRequestDuration)
	prometheus.MustRegister(EncoderTokensTotal)
	prometheus.MustRegister(EncoderCacheTotal)
	prometheus.MustRegister(ChatRequestsTotal)
	prometheus.MustRegister(ChatRequestDuration)
	prometheus.MustRegister(RerankRequestsTotal)
	prometheus.MustRegister(RerankFallbacksTotal)
	modelMetricsRegistered = true
}
