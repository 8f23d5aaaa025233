package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvault_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memvault_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	MemoriesStored = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memvault_memories_stored",
		Help: "Semantic memories currently held per user",
	}, []string{"user"})

	RetrievalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memvault_retrievals_total",
		Help: "Total retrieval pipeline runs",
	})

	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memvault_retrieval_duration_seconds",
		Help:    "Retrieval pipeline duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	SynthesisJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvault_synthesis_jobs_total",
		Help: "Synthesis jobs by final status",
	}, []string{"status"})

	SynthesisQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memvault_synthesis_queue_depth",
		Help: "Jobs currently waiting in the synthesis queue",
	})

	SynthesisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memvault_synthesis_duration_seconds",
		Help:    "End-to-end synthesis duration per conversation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvault_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"status"})

	EmbeddingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvault_embedding_requests_total",
		Help: "Total embedding requests",
	}, []string{"status"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memvault_circuit_breaker_state",
		Help: "Circuit breaker state per target (0=closed, 1=open, 2=half-open)",
	}, []string{"target"})

	UtilityUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memvault_utility_updates_total",
		Help: "Total batch utility update runs",
	})

	PluginRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvault_plugin_requests_total",
		Help: "Plugin data requests by decision",
	}, []string{"decision"})

	RedactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvault_redactions_total",
		Help: "Redaction rule applications",
	}, []string{"rule"})
)
