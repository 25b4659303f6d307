// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package monitor periodically checks running tasks: records without a live
// process, ffmpeg processes that died or went zombie behind the supervisor's
// back, RTMP ingest reachability and host resource pressure.
package monitor

import (
	"context"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/supervisor"
)

const (
	zombieMessage  = "terminated by monitor: ffmpeg process is a zombie"
	missingMessage = "terminated by monitor: ffmpeg process disappeared"

	// strikes is how many consecutive sweeps must see a bad process before
	// the task is ended. One sweep can race a normal exit.
	strikes = 2

	dialParallelism = 8
)

// Config tunes a Monitor.
type Config struct {
	Interval          time.Duration
	DialTimeout      time.Duration
	CPUWarnPercent    float64
	MemoryWarnPercent float64
}

// Tasks is the supervisor surface the monitor drives.
type Tasks interface {
	RunningTasks() []supervisor.RunningTask
	Abort(id, message string) bool
	Reconcile(ctx context.Context) (int, error)
}

// Dialer opens the TCP connection used to check an ingest host.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// HostStatus is the reachability result for one ingest address.
type HostStatus struct {
	Reachable bool
	Latency   time.Duration
	Tasks     []string
	Err       error
}

// Report summarises one sweep.
type Report struct {
	Running  int
	Orphans  int
	Aborted  []string
	Hosts    map[string]HostStatus
	Resource *Resources
}

// Monitor runs liveness sweeps. Sweep is not safe for concurrent use; Run
// calls it from a single goroutine.
type Monitor struct {
	cfg     Config
	tasks   Tasks
	inspect Inspector
	dial    Dialer
	logger  zerolog.Logger

	suspects map[string]int
	hosts    map[string]struct{}
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithInspector replaces the host process inspector.
func WithInspector(i Inspector) Option { return func(m *Monitor) { m.inspect = i } }

// WithDialer replaces the TCP dialer used for ingest checks.
func WithDialer(d Dialer) Option { return func(m *Monitor) { m.dial = d } }

// New returns a Monitor for tasks.
func New(cfg Config, tasks Tasks, opts ...Option) *Monitor {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	m := &Monitor{
		cfg:      cfg,
		tasks:    tasks,
		inspect:  HostInspector{},
		dial:     (&net.Dialer{}).DialContext,
		logger:   xglog.WithComponent("monitor"),
		suspects: make(map[string]int),
		hosts:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps every Interval until ctx is done. A non-positive Interval
// returns immediately.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.Interval <= 0 {
		return nil
	}
	m.logger.Info().
		Str(xglog.FieldEvent, "monitor.started").
		Dur("interval", m.cfg.Interval).
		Msg("task monitor running")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one pass and reports what it saw and did.
func (m *Monitor) Sweep(ctx context.Context) Report {
	var rep Report

	orphans, err := m.tasks.Reconcile(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str(xglog.FieldEvent, "monitor.reconcile_failed").Msg("could not reconcile running tasks")
	}
	rep.Orphans = orphans
	for i := 0; i < orphans; i++ {
		metrics.IncMonitorRepair("orphaned")
	}

	running := m.tasks.RunningTasks()
	rep.Running = len(running)
	rep.Aborted = m.checkProcesses(running)
	rep.Hosts = m.checkHosts(ctx, running)
	rep.Resource = m.sampleResources()

	metrics.IncMonitorSweep()
	m.logger.Debug().
		Str(xglog.FieldEvent, "monitor.sweep").
		Int("running", rep.Running).
		Int("orphans", rep.Orphans).
		Int("aborted", len(rep.Aborted)).
		Int("hosts", len(rep.Hosts)).
		Msg("sweep finished")
	return rep
}

func (m *Monitor) checkProcesses(running []supervisor.RunningTask) []string {
	var aborted []string
	seen := make(map[string]struct{}, len(running))
	for _, rt := range running {
		seen[rt.ID] = struct{}{}
		state := m.inspect.State(rt.PID)
		if state == ProcAlive {
			delete(m.suspects, rt.ID)
			continue
		}
		m.suspects[rt.ID]++
		if m.suspects[rt.ID] < strikes {
			continue
		}
		delete(m.suspects, rt.ID)

		reason, msg := "zombie", zombieMessage
		if state == ProcMissing {
			reason, msg = "missing", missingMessage
		}
		m.logger.Warn().
			Str(xglog.FieldTaskID, rt.ID).
			Str(xglog.FieldEvent, "monitor.process_unhealthy").
			Int(xglog.FieldPID, rt.PID).
			Str(xglog.FieldReason, reason).
			Msg("ending task with unhealthy ffmpeg process")
		if m.tasks.Abort(rt.ID, msg) {
			metrics.IncMonitorRepair(reason)
			aborted = append(aborted, rt.ID)
		}
	}
	for id := range m.suspects {
		if _, ok := seen[id]; !ok {
			delete(m.suspects, id)
		}
	}
	sort.Strings(aborted)
	return aborted
}

func (m *Monitor) checkHosts(ctx context.Context, running []supervisor.RunningTask) map[string]HostStatus {
	byHost := make(map[string][]string)
	for _, rt := range running {
		addr, ok := IngestAddr(rt.RTMPURL)
		if !ok {
			continue
		}
		byHost[addr] = append(byHost[addr], rt.ID)
	}

	var (
		mu  sync.Mutex
		out = make(map[string]HostStatus, len(byHost))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dialParallelism)
	for addr, ids := range byHost {
		g.Go(func() error {
			st := m.dialHost(gctx, addr)
			st.Tasks = ids
			mu.Lock()
			out[addr] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for addr, st := range out {
		metrics.ObserveRTMPDial(addr, st.Reachable, st.Latency)
		if st.Reachable {
			m.logger.Debug().
				Str("host", addr).
				Dur("latency", st.Latency).
				Msg("rtmp ingest reachable")
			continue
		}
		m.logger.Warn().Err(st.Err).
			Str(xglog.FieldEvent, "monitor.rtmp_unreachable").
			Str("host", addr).
			Int("affected_tasks", len(st.Tasks)).
			Msg("rtmp ingest not reachable")
	}
	for addr := range m.hosts {
		if _, ok := out[addr]; !ok {
			metrics.ForgetRTMPHost(addr)
			delete(m.hosts, addr)
		}
	}
	for addr := range out {
		m.hosts[addr] = struct{}{}
	}
	return out
}

func (m *Monitor) dialHost(ctx context.Context, addr string) HostStatus {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	start := time.Now()
	conn, err := m.dial(ctx, "tcp", addr)
	latency := time.Since(start)
	if err != nil {
		return HostStatus{Latency: latency, Err: err}
	}
	_ = conn.Close()
	return HostStatus{Reachable: true, Latency: latency}
}

func (m *Monitor) sampleResources() *Resources {
	res, err := m.inspect.Sample()
	if err != nil {
		m.logger.Debug().Err(err).Msg("resource sample unavailable")
		return nil
	}
	metrics.HostCPUPercent.Set(res.CPUPercent)
	metrics.HostMemoryPercent.Set(res.MemoryPercent)
	if m.cfg.CPUWarnPercent > 0 && res.CPUPercent > m.cfg.CPUWarnPercent {
		m.logger.Warn().
			Str(xglog.FieldEvent, "monitor.cpu_high").
			Float64("cpu_percent", res.CPUPercent).
			Msg("host CPU usage high")
	}
	if m.cfg.MemoryWarnPercent > 0 && res.MemoryPercent > m.cfg.MemoryWarnPercent {
		m.logger.Warn().
			Str(xglog.FieldEvent, "monitor.memory_high").
			Float64("memory_percent", res.MemoryPercent).
			Msg("host memory usage high")
	}
	return &res
}

// IngestAddr returns the host:port an RTMP URL connects to. rtmps defaults
// to 443 and everything else to 1935.
func IngestAddr(rtmpURL string) (string, bool) {
	u, err := url.Parse(rtmpURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	port := u.Port()
	if port == "" {
		port = "1935"
		if u.Scheme == "rtmps" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), true
}
