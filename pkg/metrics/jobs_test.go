package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

const relayJob = "outbox_relay_batch"

func TestJobMetricsRecordsIterations(t *testing.T) {
	reg := prometheus.NewRegistry()
	jobs := NewJobMetrics(reg)

	jobs.ObserveDuration(relayJob, 40*time.Millisecond)
	jobs.ObserveDuration(relayJob, 60*time.Millisecond)
	jobs.IncSuccess(relayJob)
	jobs.IncSuccess(relayJob)
	jobs.IncFailure(relayJob)

	ok, _ := sample(t, reg, "assetledger_job_runs_total", map[string]string{"job": relayJob, "result": resultSuccess})
	failed, _ := sample(t, reg, "assetledger_job_runs_total", map[string]string{"job": relayJob, "result": resultFailure})
	assert.Equal(t, 2.0, ok)
	assert.Equal(t, 1.0, failed)

	spent, _ := sample(t, reg, "assetledger_job_duration_seconds", map[string]string{"job": relayJob})
	assert.InDelta(t, 0.1, spent, 1e-9)

	stamp, found := sample(t, reg, "assetledger_job_last_success_timestamp_seconds", map[string]string{"job": relayJob})
	assert.True(t, found)
	assert.WithinDuration(t, time.Now(), time.Unix(int64(stamp), 0), time.Minute)
}

func TestJobFailureLeavesLastSuccessUnset(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewJobMetrics(reg).IncFailure("payments_consumer")

	_, found := sample(t, reg, "assetledger_job_last_success_timestamp_seconds", map[string]string{"job": "payments_consumer"})
	assert.False(t, found)
}

func TestJobMetricsBlankJobLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewJobMetrics(reg).IncSuccess("")

	got, _ := sample(t, reg, "assetledger_job_runs_total", map[string]string{"job": "unknown"})
	assert.Equal(t, 1.0, got)
}

func TestJobMetricsWithoutRegistry(t *testing.T) {
	var unset *JobMetrics
	assert.NotPanics(t, func() {
		unset.IncSuccess(relayJob)
		unset.IncFailure(relayJob)
		unset.ObserveDuration(relayJob, time.Second)
		NewJobMetrics(nil).IncSuccess(relayJob)
	})
}
