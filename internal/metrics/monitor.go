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
	// RTMPHostReachable is 1 when the last TCP dial to an ingest host succeeded.
	RTMPHostReachable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restream_rtmp_host_reachable",
		Help: "Whether the RTMP ingest host accepted the last TCP dial",
	}, []string{"host"})

	rtmpDialSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "restream_rtmp_dial_seconds",
		Help:    "RTMP ingest TCP dial latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
	})

	monitorSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restream_monitor_sweeps_total",
		Help: "Completed liveness sweeps over running tasks",
	})

	monitorRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restream_monitor_repairs_total",
		Help: "Tasks ended by the liveness monitor, by reason (orphaned, zombie, missing)",
	}, []string{"reason"})

	// HostCPUPercent and HostMemoryPercent report the last resource sample.
	HostCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restream_host_cpu_percent",
		Help: "Host CPU utilisation at the last monitor sweep",
	})
	HostMemoryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restream_host_memory_percent",
		Help: "Host memory utilisation at the last monitor sweep",
	})
)

// ObserveRTMPDial records one ingest reachability check.
func ObserveRTMPDial(host string, ok bool, d time.Duration) {
	v := 0.0
	if ok {
		v = 1
	}
	RTMPHostReachable.WithLabelValues(host).Set(v)
	rtmpDialSeconds.Observe(d.Seconds())
}

// ForgetRTMPHost drops the gauge for a host no running task pushes to.
func ForgetRTMPHost(host string) { RTMPHostReachable.DeleteLabelValues(host) }

// IncMonitorSweep records a finished sweep.
func IncMonitorSweep() { monitorSweepsTotal.Inc() }

// IncMonitorRepair records a task ended by the monitor.
func IncMonitorRepair(reason string) { monitorRepairsTotal.WithLabelValues(reason).Inc() }
