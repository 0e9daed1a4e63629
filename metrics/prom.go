// Package metrics 暴露编排引擎的 Prometheus 指标与主机资源采样。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geoetl"

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "jobs_submitted_total",
		Help:      "Jobs accepted by submit (new and idempotent repeats).",
	}, []string{"job_type"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "jobs_finished_total",
		Help:      "Jobs that reached a terminal status.",
	}, []string{"job_type", "status"})

	StagesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "stage_finalized_total",
		Help:      "Stage results written, by stage status.",
	}, []string{"status"})

	StateConflictsExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "state",
		Name:      "state_conflicts_exhausted_total",
		Help:      "Optimistic concurrency updates that gave up after bounded retries.",
	}, []string{"record"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Processor invocations by task type and outcome.",
	}, []string{"task_type", "status"})

	TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "task_retries_total",
		Help:      "Task retries scheduled with backoff.",
	}, []string{"task_type"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "task_duration_seconds",
		Help:      "Processor execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"task_type"})

	TasksInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_inflight",
		Help:      "Messages currently being handled by this process.",
	})

	PoisonMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poison",
		Name:      "poison_messages_total",
		Help:      "Dead-lettered messages processed by the poison monitor.",
	}, []string{"queue"})

	HostCPULoad = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "cpu_load",
		Help:      "1-minute load average.",
	})

	HostMemUsedRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "mem_used_ratio",
		Help:      "Used / total virtual memory.",
	})

	HostDiskUsedRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "host",
		Name:      "disk_used_ratio",
		Help:      "Used / total disk on the root filesystem.",
	})
)
