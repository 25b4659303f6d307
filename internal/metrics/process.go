// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procLaunchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restream_process_launch_total",
		Help: "Process launch attempts by result",
	}, []string{"result"})

	procExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restream_process_exit_total",
		Help: "Process exits by kind (success, failure, signaled)",
	}, []string{"kind"})

	procRestartTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restream_process_restart_total",
		Help: "Supervised relaunches after network failures",
	})

	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restream_proc_terminate_total",
		Help: "Signals sent to process groups by signal and result",
	}, []string{"signal", "result"})

	// ProxyConfigsActive reports proxychains configs currently on disk for live tasks.
	ProxyConfigsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restream_proxy_configs_active",
		Help: "Per-task proxychains configs currently held",
	})
)

// IncProcLaunch records a launch result (ok, missing_input, missing_binary, start_failed).
func IncProcLaunch(result string) { procLaunchTotal.WithLabelValues(result).Inc() }

// IncProcExit records how a supervised process ended.
func IncProcExit(kind string) { procExitTotal.WithLabelValues(kind).Inc() }

// IncProcRestart records a supervised relaunch.
func IncProcRestart() { procRestartTotal.Inc() }

// IncProcTerminate records a group signal (SIGTERM, SIGKILL) and its result (sent, esrch, error).
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}
