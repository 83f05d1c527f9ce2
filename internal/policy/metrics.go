package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	policyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_policy_evaluations_total",
			Help: "Topic admission evaluations",
		},
		[]string{"decision", "mode"},
	)

	policyEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_policy_evaluation_duration_seconds",
			Help:    "Time spent evaluating admission policies",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		},
		[]string{"mode"},
	)

	policyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_policy_errors_total",
			Help: "Policy load and evaluation errors",
		},
		[]string{"error_type"},
	)

	policyDryRunDivergence = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_policy_dry_run_would_deny_total",
			Help: "Topics a dry-run policy would have denied",
		},
	)

	policyCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_policy_cache_hits_total",
			Help: "Admission decisions served from cache",
		},
	)

	policyModulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_policy_modules_loaded",
			Help: "Number of rego modules currently compiled",
		},
	)
)
