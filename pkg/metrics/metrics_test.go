package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return metric.GetCounter().GetValue()
}

func getHistogramCount(t *testing.T, observer prometheus.Observer) uint64 {
	t.Helper()
	h, ok := observer.(prometheus.Metric)
	require.True(t, ok)
	var metric dto.Metric
	require.NoError(t, h.Write(&metric))
	return metric.GetHistogram().GetSampleCount()
}

func TestObserveTask(t *testing.T) {
	r := NewRecorder()
	r.ObserveTask("deploy", "web1", "root", "", 150*time.Millisecond)
	r.ObserveTask("deploy", "web1", "root", "connection", time.Second)

	t.Run("executions", func(t *testing.T) {
		counter, err := r.taskExecutions.GetMetricWithLabelValues("deploy", "web1", "root")
		require.NoError(t, err)
		assert.Equal(t, float64(2), getCounterValue(t, counter))
	})

	t.Run("errors", func(t *testing.T) {
		counter, err := r.taskErrors.GetMetricWithLabelValues("deploy", "web1", "connection")
		require.NoError(t, err)
		assert.Equal(t, float64(1), getCounterValue(t, counter))
	})

	t.Run("duration", func(t *testing.T) {
		observer, err := r.taskDuration.GetMetricWithLabelValues("deploy", "web1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), getHistogramCount(t, observer))
	})
}

func TestObserveRunAndTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun("deploy", "parallel", 2*time.Second)

	counter, err := r.runs.GetMetricWithLabelValues("deploy", "parallel")
	require.NoError(t, err)
	assert.Equal(t, float64(1), getCounterValue(t, counter))

	path := filepath.Join(t.TempDir(), "spindle.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `spindle_runs_total{mode="parallel",task="deploy"} 1`)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveTask("deploy", "web1", "root", "", time.Second)
		r.ObserveRun("deploy", "sequential", time.Second)
	})
}
