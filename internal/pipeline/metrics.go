package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 包级promauto指标，进程内注册一次
var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_index_jobs_total",
		Help: "Index pipeline jobs by type and outcome",
	}, []string{"job_type", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_index_job_duration_seconds",
		Help:    "Index pipeline job execution duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_type"})

	jobRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_index_job_retries_total",
		Help: "Retry attempts by job type",
	}, []string{"job_type"})

	deadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_dead_letters_total",
		Help: "Jobs persisted to the dead letter store",
	}, []string{"job_type"})

	inflightDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_inflight_drops_total",
		Help: "Events dropped because the same key was already in flight",
	})
)
