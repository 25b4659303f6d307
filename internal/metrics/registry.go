// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registryOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restream_registry_ops_total",
		Help: "Task registry operations by backend, op and result",
	}, []string{"backend", "op", "result"})

	registryOpSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "restream_registry_op_seconds",
		Help:    "Task registry operation latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
	}, []string{"backend", "op"})
)

// ObserveRegistryOp records one registry call.
func ObserveRegistryOp(backend, op, result string, d time.Duration) {
	registryOpsTotal.WithLabelValues(backend, op, result).Inc()
	registryOpSeconds.WithLabelValues(backend, op).Observe(d.Seconds())
}
