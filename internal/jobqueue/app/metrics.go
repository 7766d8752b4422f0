package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued.",
		},
		[]string{"queue", "job_type"},
	)

	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed by workers.",
		},
		[]string{"queue", "job_type", "status"}, // status: "success", "retry", "failed"
	)

	jobProcessingDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobqueue",
			Name:      "job_processing_duration_seconds",
			Help:      "Duration of job handler execution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"queue", "job_type"},
	)

	delayedJobsPromotedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "delayed_jobs_promoted_total",
			Help:      "Total number of delayed jobs promoted to waiting by the poller.",
		},
	)

	waitingJobsResignalledCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "waiting_jobs_resignalled_total",
			Help:      "Total number of stalled waiting jobs re-signalled by the poller sweep.",
		},
		[]string{"queue"},
	)
)
