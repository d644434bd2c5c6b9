// Package metrics keeps per-stage Prometheus counters. Stages are short
// lived batch processes, so instead of serving /metrics the registry is
// written to a node-exporter textfile when the stage ends.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all metrics recorded by a loop-agent stage
type Metrics struct {
	registry *prometheus.Registry
	stage    string
	started  time.Time

	hubOperationsTotal    *prometheus.CounterVec
	hubOperationDuration  *prometheus.HistogramVec
	instancesTotal        *prometheus.CounterVec
	checkpointsPushed     *prometheus.CounterVec
	stageDurationSeconds  *prometheus.GaugeVec
	stageLastSuccessTime  *prometheus.GaugeVec
	subprocessRunsTotal   *prometheus.CounterVec
	subprocessRunDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics of stage on a private registry.
func NewMetrics(stage string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stage:    stage,
		started:  time.Now(),
		hubOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loop_agent_hub_operations_total",
				Help: "The total number of Hub operations by result",
			},
			[]string{"stage", "operation", "repo_type", "result"},
		),
		hubOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loop_agent_hub_operation_duration_seconds",
				Help:    "The duration of Hub operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // From 0.1s to ~3.4m
			},
			[]string{"stage", "operation"},
		),
		instancesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loop_agent_benchmark_instances_total",
				Help: "Benchmark instances by outcome (processed, skipped)",
			},
			[]string{"stage", "outcome"},
		),
		checkpointsPushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loop_agent_checkpoints_pushed_total",
				Help: "Checkpoint and merged snapshot pushes by kind and result",
			},
			[]string{"stage", "kind", "result"},
		),
		stageDurationSeconds: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loop_agent_stage_duration_seconds",
				Help: "Wall time of the last stage run",
			},
			[]string{"stage"},
		),
		stageLastSuccessTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loop_agent_stage_last_success_timestamp_seconds",
				Help: "Unix time the stage last completed without error",
			},
			[]string{"stage"},
		),
		subprocessRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loop_agent_subprocess_runs_total",
				Help: "External command invocations by result",
			},
			[]string{"stage", "command", "result"},
		),
		subprocessRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loop_agent_subprocess_duration_seconds",
				Help:    "The duration of external commands in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16), // From 1s to ~9h
			},
			[]string{"stage", "command"},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordHubOperation records one Hub call and its duration.
func (m *Metrics) RecordHubOperation(operation, repoType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.hubOperationsTotal.WithLabelValues(m.stage, operation, repoType, result(err)).Inc()
	m.hubOperationDuration.WithLabelValues(m.stage, operation).Observe(duration.Seconds())
}

// RecordInstance records a benchmark instance as processed or skipped.
func (m *Metrics) RecordInstance(skipped bool) {
	if m == nil {
		return
	}
	outcome := "processed"
	if skipped {
		outcome = "skipped"
	}
	m.instancesTotal.WithLabelValues(m.stage, outcome).Inc()
}

// RecordPush records a checkpoint ("checkpoint") or merged snapshot ("merged") push.
func (m *Metrics) RecordPush(kind string, err error) {
	if m == nil {
		return
	}
	m.checkpointsPushed.WithLabelValues(m.stage, kind, result(err)).Inc()
}

// RecordSubprocess records one external command run.
func (m *Metrics) RecordSubprocess(command string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.subprocessRunsTotal.WithLabelValues(m.stage, command, result(err)).Inc()
	m.subprocessRunDuration.WithLabelValues(m.stage, command).Observe(duration.Seconds())
}

// Finish sets the stage duration and, on success, the last success time.
func (m *Metrics) Finish(err error) {
	if m == nil {
		return
	}
	m.stageDurationSeconds.WithLabelValues(m.stage).Set(time.Since(m.started).Seconds())
	if err == nil {
		m.stageLastSuccessTime.WithLabelValues(m.stage).SetToCurrentTime()
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry in the text exposition format to path,
// creating the parent directory.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
