// Package metrics records per-host task outcomes as prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns a private registry so several runs in one process, and tests,
// never collide on global collectors.
type Recorder struct {
	registry *prometheus.Registry

	taskExecutions *prometheus.CounterVec
	taskErrors     *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		taskExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_task_executions_total",
			Help: "The total number of task executions per host",
		}, []string{"task", "host", "run_as"}),
		taskErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_task_errors_total",
			Help: "The total number of failed task executions per host",
		}, []string{"task", "host", "kind"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spindle_task_duration_seconds",
			Help:    "The duration of task executions in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"task", "host"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_runs_total",
			Help: "The total number of fan-out runs",
		}, []string{"task", "mode"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spindle_run_duration_seconds",
			Help:    "The duration of fan-out runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"task", "mode"}),
	}
}

// ObserveTask records one task execution on one host. kind is empty for
// successful executions.
func (r *Recorder) ObserveTask(task, host, runAs, kind string, took time.Duration) {
	if r == nil {
		return
	}
	r.taskExecutions.WithLabelValues(task, host, runAs).Inc()
	r.taskDuration.WithLabelValues(task, host).Observe(took.Seconds())
	if kind != "" {
		r.taskErrors.WithLabelValues(task, host, kind).Inc()
	}
}

// ObserveRun records a complete fan-out run.
func (r *Recorder) ObserveRun(task, mode string, took time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(task, mode).Inc()
	r.runDuration.WithLabelValues(task, mode).Observe(took.Seconds())
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile dumps the current metrics in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
