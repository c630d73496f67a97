package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massmail_emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailsNotSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massmail_emails_not_sent_total",
			Help: "Total emails that failed to send",
		},
	)

	JobsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massmail_jobs_started_total",
			Help: "Total mass mail jobs started",
		},
	)

	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massmail_jobs_completed_total",
			Help: "Total mass mail jobs completed",
		},
	)

	JobsCanceled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massmail_jobs_canceled_total",
			Help: "Total mass mail jobs canceled",
		},
	)

	RetryRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massmail_retry_rounds_total",
			Help: "Total retry rounds executed",
		},
	)

	StaleWorkersReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massmail_stale_workers_reaped_total",
			Help: "Total stale workers reaped",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		EmailsSent,
		EmailsNotSent,
		JobsStarted,
		JobsCompleted,
		JobsCanceled,
		RetryRounds,
		StaleWorkersReaped,
	)
}
