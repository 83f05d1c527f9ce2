package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_started_total",
			Help: "Total number of research runs started",
		},
		[]string{"mode"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_completed_total",
			Help: "Total number of research runs finished",
		},
		[]string{"mode", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"mode"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_active_runs",
			Help: "Number of research runs currently executing",
		},
	)

	RunsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_rejected_total",
			Help: "Research submissions rejected before execution",
		},
		[]string{"reason"},
	)

	// Subtopic metrics
	SubtopicTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_subtopic_tasks_total",
			Help: "Subtopic research tasks by outcome",
		},
		[]string{"outcome"},
	)

	SubtopicDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_subtopic_duration_seconds",
			Help:    "Duration of one subtopic research task",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
	)

	SourcesPerSubtopic = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_sources_per_subtopic",
			Help:    "Number of sources collected per subtopic",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	// Critic metrics
	CriticIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_critic_iterations",
			Help:    "Critic iterations per run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	CriticScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_critic_score",
			Help:    "Overall score assigned by the critic",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	Revisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_revisions_total",
			Help: "Total number of report revisions",
		},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_llm_requests_total",
			Help: "LLM completion requests by caller role and status",
		},
		[]string{"role", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_llm_latency_seconds",
			Help:    "LLM completion latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_llm_tokens_total",
			Help: "Tokens consumed by LLM calls",
		},
		[]string{"role", "kind"},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_search_requests_total",
			Help: "Web search requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_search_latency_seconds",
			Help:    "Web search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_cache_hits_total",
			Help: "Report cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_cache_misses_total",
			Help: "Report cache misses",
		},
		[]string{"cache"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_stream_subscribers",
			Help: "Active SSE and WebSocket subscribers",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_stream_events_dropped_total",
			Help: "Events dropped because a subscriber was slow",
		},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_http_requests_total",
			Help: "HTTP API requests by method and status code",
		},
		[]string{"method", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// RecordRunMetrics records the outcome of a finished run.
func RecordRunMetrics(mode, status string, durationSeconds float64) {
	RunsCompleted.WithLabelValues(mode, status).Inc()
	RunDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordSubtopicMetrics records one finished research task.
func RecordSubtopicMetrics(outcome string, durationSeconds float64, sources int) {
	SubtopicTasks.WithLabelValues(outcome).Inc()
	SubtopicDuration.Observe(durationSeconds)
	if outcome == "success" {
		SourcesPerSubtopic.Observe(float64(sources))
	}
}

// RecordLLMMetrics records one completion call.
func RecordLLMMetrics(role, status string, durationSeconds float64, promptTokens, completionTokens int) {
	LLMRequests.WithLabelValues(role, status).Inc()
	LLMLatency.WithLabelValues(role).Observe(durationSeconds)
	if promptTokens > 0 {
		LLMTokens.WithLabelValues(role, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokens.WithLabelValues(role, "completion").Add(float64(completionTokens))
	}
}

// RecordSearchMetrics records one search call.
func RecordSearchMetrics(provider, outcome string, durationSeconds float64) {
	SearchRequests.WithLabelValues(provider, outcome).Inc()
	SearchLatency.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordCriticMetrics records a finished critic loop.
func RecordCriticMetrics(iterations, revisions int, finalScore int) {
	CriticIterations.Observe(float64(iterations))
	if revisions > 0 {
		Revisions.Add(float64(revisions))
	}
	if finalScore > 0 {
		CriticScore.Observe(float64(finalScore))
	}
}
