package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friday_jobs_submitted_total",
			Help: "Jobs accepted by the scheduler per request kind.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friday_jobs_finished_total",
			Help: "Jobs reaching a terminal status per request kind.",
		},
		[]string{"kind", "status"},
	)

	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "friday_jobs_active",
			Help: "Jobs currently holding an execution slot.",
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "friday_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600, 1800},
		},
		[]string{"kind", "stage"},
	)

	stageRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friday_stage_retries_total",
			Help: "Transient failures retried inside a stage.",
		},
		[]string{"stage"},
	)
)

func init() {
	register(jobsSubmitted, jobsFinished, jobsActive, stageDuration, stageRetries)
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func JobSubmitted(kind string) {
	jobsSubmitted.WithLabelValues(norm(kind)).Inc()
}

func JobFinished(kind, status string) {
	jobsFinished.WithLabelValues(norm(kind), norm(status)).Inc()
}

// JobStarted and JobStopped track slot occupancy.
func JobStarted() { jobsActive.Inc() }
func JobStopped() { jobsActive.Dec() }

func ObserveStage(kind, stage string, elapsed time.Duration) {
	stageDuration.WithLabelValues(norm(kind), norm(stage)).Observe(elapsed.Seconds())
}

func StageRetried(stage string) {
	stageRetries.WithLabelValues(norm(stage)).Inc()
}
