// Package metrics registers the Prometheus collectors of every eomat process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	materializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eomat_materializations_total",
		Help: "Product materialization decisions by pipeline and resulting state",
	}, []string{"pipeline", "state"})

	sweepClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eomat_sweep_claimed_total",
		Help: "Products claimed AVAILABLE -> SCHEDULED by the scheduling sweep",
	})

	sweepDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eomat_sweep_dispatched_total",
		Help: "Claimed products by dispatch result",
	}, []string{"result"})

	jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eomat_job_outcomes_total",
		Help: "Finished jobs by kind and outcome",
	}, []string{"kind", "outcome"})

	downloadRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eomat_download_retries_total",
		Help: "Download retries by reason",
	}, []string{"reason"})

	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eomat_download_bytes_total",
		Help: "Bytes written by completed downloads",
	})

	completenessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eomat_completeness_evaluation_seconds",
		Help:    "Completeness evaluation latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	discovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eomat_discovered_sources_total",
		Help: "Sources registered by discovery crawls by group",
	}, []string{"group"})
)

func Materialized(pipeline, state string) {
	materializations.WithLabelValues(pipeline, state).Inc()
}

func SweepClaimed(n int) {
	sweepClaimed.Add(float64(n))
}

// SweepDispatched records one dispatch attempt; result is "ok" or "error".
func SweepDispatched(result string) {
	sweepDispatched.WithLabelValues(result).Inc()
}

func JobFinished(kind, outcome string) {
	jobOutcomes.WithLabelValues(kind, outcome).Inc()
}

func DownloadRetried(reason string) {
	downloadRetries.WithLabelValues(reason).Inc()
}

func DownloadCompleted(bytes int64) {
	downloadBytes.Add(float64(bytes))
}

func ObserveCompleteness(d time.Duration) {
	completenessDuration.Observe(d.Seconds())
}

func Discovered(group string, n int) {
	discovered.WithLabelValues(group).Add(float64(n))
}
