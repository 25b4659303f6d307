// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package monitor

import (
	"fmt"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// ProcState classifies a pid for the liveness sweep.
type ProcState int

const (
	ProcAlive ProcState = iota
	ProcZombie
	ProcMissing
)

// Resources is one host utilisation sample.
type Resources struct {
	CPUPercent    float64
	MemoryPercent float64
}

// Inspector reads process and host state.
type Inspector interface {
	State(pid int) ProcState
	Sample() (Resources, error)
}

// HostInspector reads the local host through gopsutil. Unknown states count
// as alive.
type HostInspector struct{}

func (HostInspector) State(pid int) ProcState {
	exists, err := process.PidExists(int32(pid)) // #nosec G115 -- pids fit in int32
	if err == nil && !exists {
		return ProcMissing
	}
	p, err := process.NewProcess(int32(pid)) // #nosec G115
	if err != nil {
		return ProcAlive
	}
	status, err := p.Status()
	if err != nil {
		return ProcAlive
	}
	if status == "Z" || status == "zombie" {
		return ProcZombie
	}
	return ProcAlive
}

func (HostInspector) Sample() (Resources, error) {
	// A zero interval compares against the previous call, which is the last
	// sweep.
	cpus, err := cpu.Percent(0, false)
	if err != nil {
		return Resources{}, fmt.Errorf("cpu percent: %w", err)
	}
	if len(cpus) == 0 {
		return Resources{}, fmt.Errorf("cpu percent: no samples")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Resources{}, fmt.Errorf("virtual memory: %w", err)
	}
	return Resources{CPUPercent: cpus[0], MemoryPercent: vm.UsedPercent}, nil
}
