// Package metrics exposes Prometheus instrumentation for jobs and admission control.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "questionnaire_"

var jobsSubmittedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "bulk_jobs_submitted_total",
		Help: "Number of bulk jobs accepted",
	},
	[]string{"type", "dry_run"},
)

var jobsFinishedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "bulk_jobs_finished_total",
		Help: "Number of bulk jobs that reached a terminal status",
	},
	[]string{"type", "status"},
)

var chunkItemsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "bulk_chunk_items_total",
		Help: "Number of bulk job items processed, by outcome",
	},
	[]string{"type", "outcome"},
)

var chunkDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "bulk_chunk_duration_seconds",
		Help:    "Time taken to commit one bulk job chunk",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"type"},
)

var rateLimitDecisionsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "rate_limit_decisions_total",
		Help: "Rate limiter decisions by operation",
	},
	[]string{"operation", "decision"},
)

var slowQueriesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "slow_queries_total",
		Help: "Submission queries slower than the configured threshold",
	},
	[]string{"sort_field"},
)

func RecordJobSubmitted(jobType string, dryRun bool) {
	d := "false"
	if dryRun {
		d = "true"
	}
	jobsSubmittedCounter.WithLabelValues(jobType, d).Inc()
}

func RecordJobFinished(jobType, status string) {
	jobsFinishedCounter.WithLabelValues(jobType, status).Inc()
}

func RecordChunk(jobType string, successful, failed, skipped int, duration time.Duration) {
	chunkItemsCounter.WithLabelValues(jobType, "successful").Add(float64(successful))
	chunkItemsCounter.WithLabelValues(jobType, "failed").Add(float64(failed))
	chunkItemsCounter.WithLabelValues(jobType, "skipped").Add(float64(skipped))
	chunkDurationHist.WithLabelValues(jobType).Observe(duration.Seconds())
}

func RecordRateLimitDecision(op, decision string) {
	rateLimitDecisionsCounter.WithLabelValues(op, decision).Inc()
}

func RecordSlowQuery(sortField string) {
	slowQueriesCounter.WithLabelValues(sortField).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
