package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.ObserveRun("realtime-maintenance", "pending-delivery-sweep", 250*time.Millisecond, nil)
	m.ObserveRun("realtime-maintenance", "pending-delivery-sweep", time.Millisecond, errors.New("boom"))
	m.IncLockSkipped("cluster-maintenance")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	runs := findMetricFamily(mfs, "notifications_scheduler_job_runs_total")
	require.NotNil(t, runs)
	require.Equal(t, 1.0, counterWith(t, runs, map[string]string{"job": "pending-delivery-sweep", "result": JobSucceeded}))
	require.Equal(t, 1.0, counterWith(t, runs, map[string]string{"job": "pending-delivery-sweep", "result": JobFailed}))

	duration := findMetricFamily(mfs, "notifications_scheduler_job_duration_seconds")
	require.NotNil(t, duration)
	require.Equal(t, uint64(2), duration.GetMetric()[0].GetHistogram().GetSampleCount())

	last := findMetricFamily(mfs, "notifications_scheduler_job_last_success_timestamp_seconds")
	require.NotNil(t, last)
	require.Greater(t, last.GetMetric()[0].GetGauge().GetValue(), 0.0)

	skips := findMetricFamily(mfs, "notifications_scheduler_lock_skips_total")
	require.NotNil(t, skips)
	require.Equal(t, 1.0, counterWith(t, skips, map[string]string{"scheduler": "cluster-maintenance"}))
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("s", "job", time.Second, nil)
	m.IncLockSkipped("s")

	require.Nil(t, NewCronJobMetrics(nil))
}

func counterWith(t *testing.T, mf *dto.MetricFamily, labels map[string]string) float64 {
	t.Helper()
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("%s has no series %v", mf.GetName(), labels)
	return 0
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric.GetLabel(), map[string]string{label: value}) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}
