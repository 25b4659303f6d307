// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histogramCount(t *testing.T, name string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total uint64
	for _, mf := range families {
		if mf.GetName() != name || mf.GetType() != dto.MetricType_HISTOGRAM {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
	}
	return total
}

func TestObserveTaskFinalized(t *testing.T) {
	before := testutil.ToFloat64(TasksFinalized.WithLabelValues("completed"))
	beforeHist := histogramCount(t, "restream_task_runtime_minutes")

	mins := 12.5
	ObserveTaskFinalized("completed", &mins)
	ObserveTaskFinalized("completed", nil)

	assert.Equal(t, before+2, testutil.ToFloat64(TasksFinalized.WithLabelValues("completed")))
	assert.Equal(t, beforeHist+1, histogramCount(t, "restream_task_runtime_minutes"))
}

func TestProcessCounters(t *testing.T) {
	before := testutil.ToFloat64(procTerminateTotal.WithLabelValues("SIGTERM", "sent"))
	IncProcTerminate("SIGTERM", "sent")
	assert.Equal(t, before+1, testutil.ToFloat64(procTerminateTotal.WithLabelValues("SIGTERM", "sent")))

	beforeLaunch := testutil.ToFloat64(procLaunchTotal.WithLabelValues("ok"))
	IncProcLaunch("ok")
	assert.Equal(t, beforeLaunch+1, testutil.ToFloat64(procLaunchTotal.WithLabelValues("ok")))
}

func TestObserveRegistryOp(t *testing.T) {
	before := testutil.ToFloat64(registryOpsTotal.WithLabelValues("memory", "get", "ok"))
	beforeHist := histogramCount(t, "restream_registry_op_seconds")
	ObserveRegistryOp("memory", "get", "ok", 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(registryOpsTotal.WithLabelValues("memory", "get", "ok")))
	assert.Equal(t, beforeHist+1, histogramCount(t, "restream_registry_op_seconds"))
}
