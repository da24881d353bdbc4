package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("pending-order-ttl", 250*time.Millisecond, nil)
	m.ObserveRun("pending-order-ttl", time.Second, errors.New("db down"))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	ok, err := counterValue(mfs, "tablesync_cron_runs_total", map[string]string{"job": "pending-order-ttl", "result": CronResultOK})
	require.NoError(t, err)
	assert.Equal(t, float64(1), ok)

	failed, err := counterValue(mfs, "tablesync_cron_runs_total", map[string]string{"job": "pending-order-ttl", "result": CronResultError})
	require.NoError(t, err)
	assert.Equal(t, float64(1), failed)

	family := findMetricFamily(mfs, "tablesync_cron_run_seconds")
	require.NotNil(t, family)
	assert.Equal(t, uint64(2), family.GetMetric()[0].GetHistogram().GetSampleCount())

	last, err := fetchGaugeValue(mfs, "tablesync_cron_last_success_timestamp_seconds", "job", "pending-order-ttl")
	require.NoError(t, err)
	assert.Greater(t, last, float64(0))
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("x", time.Second, nil)
	NewCronJobMetrics(nil).ObserveRun("", time.Second, errors.New("x"))
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric, labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q has no series %v", name, labels)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	return counterValue(mfs, name, map[string]string{label: value})
}

func fetchGaugeValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric, map[string]string{label: value}) {
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("gauge %q has no series %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func hasLabels(metric *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
