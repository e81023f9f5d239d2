// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_settled_total",
			Help: "Total number of claimed jobs settled, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	JobsErrored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_jobs_errored_total",
			Help: "Total number of claimed jobs left unsettled because of an internal error",
		},
		[]string{"error_code"},
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notification_pass_duration_seconds",
			Help: "Duration of a queue processing pass in seconds",
		},
		[]string{"trigger"},
	)

	ProviderSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notification_provider_send_duration_seconds",
			Help: "Duration of provider send calls in seconds",
		},
		[]string{"provider", "result"},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_jobs_in_flight",
			Help: "Number of claimed jobs currently being processed",
		},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_rate_limited_total",
			Help: "Total number of sends deferred by the tenant rate limit",
		},
		[]string{"provider"},
	)
)
