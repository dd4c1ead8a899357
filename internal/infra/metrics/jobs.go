package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsEnqueuedTotal, jobsProcessedTotal, jobChunksTotal) }

var jobsEnqueuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dispatch_jobs_enqueued_total",
		Help: "Total number of jobs accepted onto the queue.",
	},
)

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatch_jobs_processed_total",
		Help: "Total number of jobs driven to a terminal state, labeled by status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var jobChunksTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dispatch_job_chunks_total",
		Help: "Total number of result chunks published.",
	},
)

func IncJobEnqueued() { jobsEnqueuedTotal.Inc() }

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func AddJobChunks(n int) { jobChunksTotal.Add(float64(n)) }
