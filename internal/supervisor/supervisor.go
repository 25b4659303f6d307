// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor owns the lifecycle of stream tasks: submission,
// deferred starts, one supervision unit per running process, auto-stop,
// explicit stop, recovery after restart and graceful shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/launcher"
	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/proxyconf"
	"github.com/ManuGH/restream/internal/registry"
	"github.com/ManuGH/restream/internal/scheduler"
	"github.com/ManuGH/restream/internal/task"
	"github.com/ManuGH/restream/internal/telemetry"
)

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("supervisor is shutting down")

// Config tunes supervision.
type Config struct {
	// MaxRestarts bounds relaunches after network failures; zero disables them.
	MaxRestarts  int
	RestartDelay time.Duration
	// TermGrace and KillTimeout bound Terminate.
	TermGrace   time.Duration
	KillTimeout time.Duration
	// DefaultListLimit applies when a listing does not set one.
	DefaultListLimit int
	// MinuteUnit is the length of one auto-stop minute. Tests shorten it.
	MinuteUnit time.Duration
}

func (c *Config) defaults() {
	if c.TermGrace <= 0 {
		c.TermGrace = 5 * time.Second
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 5 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 2 * time.Second
	}
	if c.DefaultListLimit <= 0 {
		c.DefaultListLimit = 10
	}
	if c.MinuteUnit <= 0 {
		c.MinuteUnit = time.Minute
	}
}

// ProcessLauncher starts ffmpeg for a record.
type ProcessLauncher interface {
	Launch(ctx context.Context, rec *task.Record, proxyConf string) (*launcher.Process, error)
}

// ProxyManager owns per-task proxychains configs.
type ProxyManager interface {
	Acquire(taskID, endpoint string) (proxyconf.Handle, error)
	Release(h proxyconf.Handle) error
	Sweep() (int, error)
}

// Deps are the collaborators a Supervisor drives.
type Deps struct {
	Registry  registry.Registry
	Launcher  ProcessLauncher
	Proxy     ProxyManager
	Scheduler *scheduler.Scheduler
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Supervisor is safe for concurrent use.
type Supervisor struct {
	cfg    Config
	reg    registry.Registry
	launch ProcessLauncher
	proxy  ProxyManager
	sched  *scheduler.Scheduler
	tracer trace.Tracer
	logger zerolog.Logger

	// ctx parents timer-driven launches; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	units   map[string]*unit
	closing bool
}

// New wires a Supervisor. Call Recover before accepting work.
func New(cfg Config, deps Deps) *Supervisor {
	cfg.defaults()
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer(telemetry.TracerName)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:    cfg,
		reg:    deps.Registry,
		launch: deps.Launcher,
		proxy:  deps.Proxy,
		sched:  deps.Scheduler,
		tracer: tracer,
		logger: xglog.WithComponent("supervisor"),
		ctx:    ctx,
		cancel: cancel,
		units:  make(map[string]*unit),
	}
}

// Submit validates spec and creates a task. Without a scheduled time the
// process is launched before Submit returns; the returned record carries the
// resulting status (running or error). Deferred tasks come back scheduled.
// Only validation problems are returned as errors (*task.ValidationError).
func (s *Supervisor) Submit(ctx context.Context, spec task.Spec) (*task.Record, error) {
	if s.isClosing() {
		return nil, ErrShuttingDown
	}

	now := s.sched.Now()
	spec.Normalize()
	if err := spec.Validate(now); err != nil {
		metrics.IncTaskSubmitted("rejected")
		return nil, err
	}

	rec := task.NewRecord(uuid.NewString(), spec, now)
	if err := s.reg.Create(ctx, rec); err != nil {
		metrics.IncTaskSubmitted("error")
		return nil, fmt.Errorf("create task: %w", err)
	}
	ctx = xglog.ContextWithTaskID(ctx, rec.ID)
	logger := xglog.WithContext(ctx, s.logger)

	if rec.ScheduledStartTime != nil {
		delay := rec.ScheduledStartTime.Sub(now)
		s.armStart(rec.ID, delay)
		metrics.IncTaskSubmitted("scheduled")
		logger.Info().
			Str(xglog.FieldEvent, "task.submitted").
			Str(xglog.FieldTaskName, rec.TaskName).
			Time("scheduled_start_time", *rec.ScheduledStartTime).
			Msg("task scheduled")
		return rec.Clone(), nil
	}

	logger.Info().
		Str(xglog.FieldEvent, "task.submitted").
		Str(xglog.FieldTaskName, rec.TaskName).
		Msg("task submitted")
	// The task exists now; a caller that goes away must not strand it.
	ctx = context.WithoutCancel(ctx)
	s.start(ctx, rec.ID)

	out, err := s.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if out.Status == task.StatusError {
		metrics.IncTaskSubmitted("launch_failed")
	} else {
		metrics.IncTaskSubmitted("accepted")
	}
	return out, nil
}

// Stop ends a task. Scheduled tasks never start; running tasks are
// terminated and Stop returns after the exit has been recorded. Stopping a
// task that is already terminal returns it unchanged.
func (s *Supervisor) Stop(ctx context.Context, id string) (*task.Record, error) {
	rec, err := s.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	ctx = xglog.ContextWithTaskID(ctx, id)
	logger := xglog.WithContext(ctx, s.logger)

	if s.cancelStart(id) {
		out, err := s.reg.Transition(ctx, id, []task.Status{task.StatusScheduled}, task.StatusStopped, func(r *task.Record) {
			r.Message = "stopped before start"
		})
		if err == nil {
			metrics.ObserveTaskFinalized(string(out.Status), out.RuntimeMinutes)
			logger.Info().
				Str(xglog.FieldEvent, "task.finalized").
				Str(xglog.FieldOldState, string(task.StatusScheduled)).
				Str(xglog.FieldNewState, string(out.Status)).
				Msg("scheduled task cancelled")
			return out, nil
		}
		if !errors.Is(err, task.ErrConflict) {
			return nil, err
		}
		return s.reg.Get(ctx, id)
	}

	u := s.unit(id)
	if u == nil {
		// No timer and no live process: close out whatever the record says.
		out, err := s.reg.Transition(ctx, id, []task.Status{task.StatusScheduled, task.StatusRunning}, task.StatusStopped, func(r *task.Record) {
			r.Message = "stopped by user"
		})
		if errors.Is(err, task.ErrConflict) {
			return s.reg.Get(ctx, id)
		}
		if err == nil {
			metrics.ObserveTaskFinalized(string(out.Status), out.RuntimeMinutes)
		}
		return out, err
	}

	s.requestStop(u, task.StatusStopped, "stopped by user")
	select {
	case <-u.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.reg.Get(ctx, id)
}

// Get returns the current record. Relaunches of a running task are
// reflected before they are persisted at finalization.
func (s *Supervisor) Get(ctx context.Context, id string) (*task.Record, error) {
	rec, err := s.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.overlay(rec)
	return rec, nil
}

// List delegates to the registry. An unset order lists newest start first;
// a zero limit applies the configured default and a negative one lists all.
func (s *Supervisor) List(ctx context.Context, opts registry.ListOptions) ([]*task.Record, error) {
	if opts.OrderBy == "" {
		opts.OrderBy = task.OrderStartTime
	}
	if opts.Limit == 0 {
		opts.Limit = s.cfg.DefaultListLimit
	}
	recs, err := s.reg.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		s.overlay(r)
	}
	return recs, nil
}

// Active returns the number of supervision units (launching or running).
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

func (s *Supervisor) overlay(rec *task.Record) {
	if rec.Status != task.StatusRunning {
		return
	}
	if u := s.unit(rec.ID); u != nil {
		if n := u.restartCount(); n > rec.Restarts {
			rec.Restarts = n
		}
	}
}

func (s *Supervisor) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Supervisor) unit(id string) *unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[id]
}

// register adds a unit for id unless one exists or shutdown has begun.
func (s *Supervisor) register(id string) (*unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, false
	}
	if _, exists := s.units[id]; exists {
		return nil, false
	}
	u := newUnit(s.ctx, id)
	s.units[id] = u
	return u, true
}

func (s *Supervisor) unregister(u *unit) {
	s.mu.Lock()
	if s.units[u.id] == u {
		delete(s.units, u.id)
	}
	s.mu.Unlock()
	u.finish()
}

func (s *Supervisor) armStart(id string, d time.Duration) {
	key := scheduler.Key{TaskID: id, Kind: scheduler.KindStart}
	metrics.TasksScheduled.Inc()
	if !s.sched.Arm(key, d, func() {
		metrics.TasksScheduled.Dec()
		s.start(xglog.ContextWithTaskID(s.ctx, id), id)
	}) {
		metrics.TasksScheduled.Dec()
	}
}

func (s *Supervisor) cancelStart(id string) bool {
	if s.sched.Cancel(scheduler.Key{TaskID: id, Kind: scheduler.KindStart}) {
		metrics.TasksScheduled.Dec()
		return true
	}
	return false
}
