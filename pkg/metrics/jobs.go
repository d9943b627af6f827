package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// JobMetrics tracks iterations of the background loops: outbox batches,
// consumer failures and worker heartbeats. A nil *JobMetrics is a no-op.
type JobMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewJobMetrics registers on reg. A nil registerer yields a no-op collector.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	factory := promauto.With(reg)
	return &JobMetrics{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetledger_job_duration_seconds",
			Help:    "Duration of background job iterations in seconds.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 15},
		}, []string{"job"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetledger_job_runs_total",
			Help: "Background job iterations by result.",
		}, []string{"job", "result"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "assetledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful iteration; alert when it stops moving.",
		}, []string{"job"}),
	}
}

func (c *JobMetrics) ObserveDuration(job string, d time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

func (c *JobMetrics) IncSuccess(job string) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, resultSuccess).Inc()
	c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (c *JobMetrics) IncFailure(job string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), resultFailure).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
