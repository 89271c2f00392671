package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job run results.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// CronJobMetrics covers the maintenance schedulers: sweep, admission prune
// and dead-letter retention.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	lockSkips   *prometheus.CounterVec
}

// NewCronJobMetrics registers the scheduler metrics. A nil registerer returns
// a no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Maintenance job executions by result.",
		}, []string{"scheduler", "job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Maintenance job duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"scheduler", "job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"scheduler", "job"}),
		lockSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "lock_skips_total",
			Help:      "Cycles skipped because another instance held the lock.",
		}, []string{"scheduler"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.lockSkips)
	return m
}

// ObserveRun records one job execution. err decides the result label.
func (c *CronJobMetrics) ObserveRun(scheduler, job string, took time.Duration, err error) {
	if c == nil {
		return
	}
	scheduler, job = normalizeLabel(scheduler), normalizeLabel(job)
	c.duration.WithLabelValues(scheduler, job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(scheduler, job, JobFailed).Inc()
		return
	}
	c.runs.WithLabelValues(scheduler, job, JobSucceeded).Inc()
	c.lastSuccess.WithLabelValues(scheduler, job).SetToCurrentTime()
}

func (c *CronJobMetrics) IncLockSkipped(scheduler string) {
	if c == nil {
		return
	}
	c.lockSkips.WithLabelValues(normalizeLabel(scheduler)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
