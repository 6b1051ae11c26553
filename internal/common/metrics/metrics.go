// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	ThreatIntelIPsReturned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threat_intel_ips_returned",
			Help: "Number of IPs returned by the most recent successful threat intel query",
		},
	)

	ThreatIntelQueryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threat_intel_query_failures_total",
			Help: "Threat intel query failures by reason",
		},
		[]string{"reason"},
	)

	ThreatIntelQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threat_intel_query_duration_seconds",
			Help:    "Latency of the log analytics indicator query",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)
