// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the prometheus collectors exported by restream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted counts submissions by result (accepted, scheduled, rejected, launch_failed).
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restream_tasks_submitted_total",
		Help: "Total task submissions by result",
	}, []string{"result"})

	// TasksFinalized counts tasks reaching a terminal status.
	TasksFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restream_tasks_finalized_total",
		Help: "Total tasks that reached a terminal status",
	}, []string{"status"})

	// TasksRunning reports tasks with a live supervised process.
	TasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restream_tasks_running",
		Help: "Tasks currently running under supervision",
	})

	// TasksScheduled reports armed deferred starts.
	TasksScheduled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restream_tasks_scheduled",
		Help: "Tasks waiting for their scheduled start",
	})

	// TaskRuntimeMinutes observes the runtime of finished tasks.
	TaskRuntimeMinutes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "restream_task_runtime_minutes",
		Help:    "Runtime of finalized tasks in minutes",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480, 960},
	})
)

// IncTaskSubmitted records a submission outcome.
func IncTaskSubmitted(result string) {
	TasksSubmitted.WithLabelValues(result).Inc()
}

// ObserveTaskFinalized records a terminal transition and, when known, the runtime.
func ObserveTaskFinalized(status string, runtimeMinutes *float64) {
	TasksFinalized.WithLabelValues(status).Inc()
	if runtimeMinutes != nil {
		TaskRuntimeMinutes.Observe(*runtimeMinutes)
	}
}
