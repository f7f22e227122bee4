// Package metrics exposes Prometheus collectors for the grievance pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Classification and threading
var (
	EmailsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_emails_classified_total",
			Help: "Emails classified, by category.",
		},
		[]string{"category"},
	)

	ThreadDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_thread_decisions_total",
			Help: "Threading decisions, by deciding layer and mail type.",
		},
		[]string{"layer", "mail_type"},
	)

	SimilarityFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grievance_similarity_failures_total",
			Help: "Similarity queries that failed and were skipped.",
		},
	)

	SimilarityScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grievance_similarity_best_score",
			Help:    "Best cosine similarity observed per query.",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.88, 0.9, 0.95, 1},
		},
	)

	LayerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_layer_panics_total",
			Help: "Resolver layers that panicked and were treated as no opinion.",
		},
		[]string{"layer"},
	)
)

// Batch and ingestion
var (
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grievance_batch_duration_seconds",
			Help:    "Duration of batch and reprocess runs.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	EmailsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_emails_ingested_total",
			Help: "Emails seen by ingestion, by outcome.",
		},
		[]string{"source", "outcome"}, // outcome: stored, duplicate, parse_error, error
	)

	EmbeddingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grievance_embedding_duration_seconds",
			Help:    "Latency of embedding backend calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_embedding_cache_total",
			Help: "Embedding cache lookups, by tier and result.",
		},
		[]string{"tier", "result"},
	)
)

// Storage backends
var (
	StorageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_storage_operations_total",
			Help: "Object, archive and graph store operations, by backend, op and result.",
		},
		[]string{"backend", "op", "result"},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_stream_messages_total",
			Help: "Redis stream messages, by stream and result.",
		},
		[]string{"stream", "result"},
	)
)

// Worker jobs
var (
	WorkerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_worker_jobs_total",
			Help: "Worker jobs, by type and result.",
		},
		[]string{"type", "result"}, // result: success, retried, failed
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grievance_worker_job_duration_seconds",
			Help:    "Worker job latency.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"type"},
	)
)

// Result returns "success" or "error" for a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// HTTP
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grievance_http_requests_total",
			Help: "HTTP requests, by route and status class.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grievance_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
