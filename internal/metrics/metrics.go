package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_runs_started_total",
			Help: "Total number of answering runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_runs_completed_total",
			Help: "Total number of answering runs completed",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResearchIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_research_iterations",
			Help:    "Number of research rounds performed per run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_run_cost_usd",
			Help:    "Cost in USD per run",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
	)

	RunTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_run_tokens_used",
			Help:    "Number of tokens used per run",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	// Stage metrics
	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_stage_latency_seconds",
			Help:    "Latency per loop stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_stage_errors_total",
			Help: "Total number of recovered stage errors",
		},
		[]string{"stage"},
	)

	// Guardrail metrics
	GuardrailTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_guardrail_trips_total",
			Help: "Total number of guardrail trips (timeout or cost)",
		},
		[]string{"limit"},
	)

	// Evidence source metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_search_requests_total",
			Help: "Total number of evidence searches",
		},
		[]string{"mode", "status"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_search_latency_seconds",
			Help:    "Evidence search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_llm_requests_total",
			Help: "Total number of reasoning-model calls",
		},
		[]string{"stage", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_llm_latency_seconds",
			Help:    "Reasoning-model call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// Pricing fallback metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_pricing_fallback_total",
			Help: "Total number of pricing fallbacks (missing/unknown model)",
		},
		[]string{"reason"},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_events_published_total",
			Help: "Total number of progress events published",
		},
		[]string{"type"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_stream_subscribers",
			Help: "Number of connected stream subscribers",
		},
	)

	// Usage ledger metrics
	UsageRecordErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_usage_record_errors_total",
			Help: "Total number of failed usage ledger writes",
		},
	)
)

// RecordRunMetrics records metrics for a completed run
func RecordRunMetrics(status string, durationSeconds float64, iterations int, tokensUsed int, costUSD float64) {
	RunsCompleted.WithLabelValues(status).Inc()
	RunDuration.Observe(durationSeconds)
	ResearchIterations.Observe(float64(iterations))

	if tokensUsed > 0 {
		RunTokensUsed.Observe(float64(tokensUsed))
	}
	if costUSD > 0 {
		RunCostUSD.Observe(costUSD)
	}
}

// RecordSearchMetrics records metrics for an evidence search
func RecordSearchMetrics(mode, status string, durationSeconds float64) {
	SearchRequests.WithLabelValues(mode, status).Inc()
	if durationSeconds > 0 {
		SearchLatency.WithLabelValues(mode).Observe(durationSeconds)
	}
}

// RecordLLMMetrics records metrics for a reasoning-model call
func RecordLLMMetrics(stage, status string, durationSeconds float64) {
	LLMRequests.WithLabelValues(stage, status).Inc()
	if durationSeconds > 0 {
		LLMLatency.WithLabelValues(stage).Observe(durationSeconds)
	}
}
