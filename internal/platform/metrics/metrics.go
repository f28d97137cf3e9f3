// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSubmitted = "submitted"
	OutcomeFailed    = "failed"

	JobReused  = "reused"
	JobCreated = "created"
)

var (
	batchSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_batch_submissions_total",
			Help: "Batch task submissions by outcome.",
		},
		[]string{"outcome"},
	)

	batchJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_batch_jobs_total",
			Help: "Batch jobs used for submissions, by whether an active job was reused or a new one created.",
		},
		[]string{"action"},
	)

	jobCompletedRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbridge_batch_job_completed_retries_total",
			Help: "Submissions retried because the target job completed before the task was added.",
		},
	)

	taskPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_task_polls_total",
			Help: "Task polls by normalized status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		},
		[]string{"method", "code"},
	)

	credentialsMinted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_credentials_minted_total",
			Help: "Delegated access tokens minted, by resource type.",
		},
		[]string{"resource"},
	)
)

func init() {
	prometheus.MustRegister(batchSubmissions)
	prometheus.MustRegister(batchJobs)
	prometheus.MustRegister(jobCompletedRetries)
	prometheus.MustRegister(taskPolls)
	prometheus.MustRegister(credentialsMinted)
	prometheus.MustRegister(httpRequests)

	for _, outcome := range []string{OutcomeSubmitted, OutcomeFailed} {
		batchSubmissions.WithLabelValues(outcome)
	}
	for _, action := range []string{JobReused, JobCreated} {
		batchJobs.WithLabelValues(action)
	}
}

func ObserveSubmission(outcome string) { batchSubmissions.WithLabelValues(outcome).Inc() }

func ObserveJob(action string) { batchJobs.WithLabelValues(action).Inc() }

func ObserveJobCompletedRetry() { jobCompletedRetries.Inc() }

func ObservePoll(status string) { taskPolls.WithLabelValues(status).Inc() }

func ObserveCredential(resource string) { credentialsMinted.WithLabelValues(resource).Inc() }

func ObserveHTTPRequest(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
