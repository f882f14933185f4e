package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "formq"

var (
	BatchesSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Total number of batches accepted for execution.",
		},
	)

	RunsRequestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_requested_total",
			Help:      "Total number of runs requested across all batches.",
		},
	)

	RunsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of finished runs, labeled by outcome status and error kind.",
		},
		[]string{"status", "kind"},
	)

	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single run from resolution to persistence (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	BatchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch start to job completion (seconds).",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	LLMAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_attempts_total",
			Help:      "Total number of LLM inference calls, labeled by outcome (valid, invalid, error).",
		},
		[]string{"outcome"},
	)

	LLMInferenceSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_inference_seconds",
			Help:      "Latency of a single LLM inference call (seconds).",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"model"},
	)

	FormSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "form_submissions_total",
			Help:      "Total number of form submissions sent to the form sink, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests delayed or rejected by a rate limit bucket.",
		},
		[]string{"scope", "bucket"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook deliveries, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	DocumentsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_uploaded_total",
			Help:      "Total number of document uploads, labeled by outcome (stored, rejected).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		BatchesSubmittedTotal,
		RunsRequestedTotal,
		RunsCompletedTotal,
		RunDurationSeconds,
		BatchDurationSeconds,
		LLMAttemptsTotal,
		LLMInferenceSeconds,
		FormSubmissionsTotal,
		RateLimitHitsTotal,
		WebhookDeliveriesTotal,
		DocumentsUploadedTotal,
	)
}
