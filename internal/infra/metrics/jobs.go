package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobRunsTotal, eventsPublishedTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_job_runs_total",
			Help: "Background job runs, labeled by job and result.",
		},
		[]string{"job", "result"}, // result: ok | error | skipped
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_events_published_total",
			Help: "Lifecycle events handed to the event publisher, by result.",
		},
		[]string{"result"}, // 'ok', 'failed', 'dropped'
	)
)

func IncJobRun(job, result string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(result)).Inc()
}

func IncEventPublished(result string) {
	eventsPublishedTotal.WithLabelValues(norm(result)).Inc()
}
