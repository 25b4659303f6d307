// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/launcher"
	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/proxyconf"
	"github.com/ManuGH/restream/internal/scheduler"
	"github.com/ManuGH/restream/internal/task"
	"github.com/ManuGH/restream/internal/telemetry"
)

const errorTailLines = 10

var errStoppedBeforeLaunch = errors.New("stop requested before launch")

type stopRequest struct {
	status  task.Status
	message string
}

// errorMessage is what an error stop leaves in error_message.
func (r *stopRequest) errorMessage() string {
	if r.status == task.StatusError {
		return r.message
	}
	return ""
}

// unit supervises one task from launch to its terminal transition.
type unit struct {
	id string

	// ctx bounds launches for this unit; cancelled by the first stop request.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	proc     *launcher.Process
	rtmpURL  string
	stop     *stopRequest
	restarts int
	stopped  chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func newUnit(parent context.Context, id string) *unit {
	ctx, cancel := context.WithCancel(parent)
	return &unit{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// setProc installs p as the live process. False means a stop was already
// requested and the caller must terminate p.
func (u *unit) setProc(p *launcher.Process) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.proc = p
	return u.stop == nil
}

func (u *unit) stopReason() *stopRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stop
}

func (u *unit) restartCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.restarts
}

// sleep waits d unless a stop is requested first. It reports whether the
// full delay elapsed.
func (u *unit) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-u.stopped:
		return false
	case <-t.C:
		return true
	}
}

func (u *unit) finish() {
	u.doneOnce.Do(func() {
		u.cancel()
		close(u.done)
	})
}

// requestStop records the first stop reason and terminates the live process.
// Later requests are ignored and return false.
func (s *Supervisor) requestStop(u *unit, status task.Status, message string) bool {
	u.mu.Lock()
	if u.stop != nil {
		u.mu.Unlock()
		return false
	}
	u.stop = &stopRequest{status: status, message: message}
	close(u.stopped)
	u.cancel()
	proc := u.proc
	u.mu.Unlock()

	s.logger.Info().
		Str(xglog.FieldTaskID, u.id).
		Str(xglog.FieldEvent, "task.stop_requested").
		Str(xglog.FieldNewState, string(status)).
		Str(xglog.FieldReason, message).
		Msg("stop requested")

	if proc != nil {
		s.terminate(u, proc)
	}
	return true
}

func (s *Supervisor) terminate(u *unit, proc *launcher.Process) {
	if err := proc.Terminate(s.cfg.TermGrace, s.cfg.KillTimeout); err != nil {
		s.logger.Error().Err(err).
			Str(xglog.FieldTaskID, u.id).
			Str(xglog.FieldEvent, "process.terminate_failed").
			Int(xglog.FieldPID, proc.PID()).
			Msg("process group did not exit")
	}
}

// start runs the launch sequence for a scheduled record: proxy config,
// process, scheduled→running, auto-stop timer, supervision goroutine.
// Failures are recorded on the task, never returned. The sequence outlives
// ctx cancellation so the record always leaves scheduled.
func (s *Supervisor) start(ctx context.Context, id string) {
	u, ok := s.register(id)
	if !ok {
		return
	}

	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "task.launch")
	defer span.End()
	logger := xglog.WithContext(ctx, s.logger)

	rec, err := s.reg.Get(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err, "registry")
		s.failLaunch(ctx, u, "task lookup failed", err)
		return
	}
	if rec.Status != task.StatusScheduled {
		logger.Debug().
			Str(xglog.FieldEvent, "task.launch_skipped").
			Str(xglog.FieldOldState, string(rec.Status)).
			Msg("task no longer scheduled")
		s.unregister(u)
		return
	}
	span.SetAttributes(telemetry.TaskAttributes(rec.ID, rec.TaskName, rec.TranscodeEnabled, rec.SOCKS5Proxy != "", rec.AutoStopMinutes)...)

	handle, err := s.proxy.Acquire(id, rec.SOCKS5Proxy)
	if err != nil {
		telemetry.RecordError(span, err, "proxy_config")
		s.failLaunch(ctx, u, "proxy configuration failed", err)
		return
	}
	if u.stopReason() != nil {
		s.releaseProxy(handle)
		s.failLaunch(ctx, u, "launch cancelled", errStoppedBeforeLaunch)
		return
	}

	proc, err := s.launch.Launch(u.ctx, rec, handle.Path)
	if err != nil {
		s.releaseProxy(handle)
		op := "start"
		var le *launcher.LaunchError
		if errors.As(err, &le) {
			op = le.Op
		}
		telemetry.RecordError(span, err, op)
		s.failLaunch(ctx, u, launchFailureMessage(op), err)
		return
	}

	running, err := s.commitRunning(ctx, u, proc)
	if err != nil {
		s.terminate(u, proc)
		s.releaseProxy(handle)
		if errors.Is(err, task.ErrConflict) {
			// Another writer already moved the record out of scheduled.
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "task.launch_aborted").
				Int(xglog.FieldPID, proc.PID()).
				Msg("task changed during launch")
			s.unregister(u)
			return
		}
		telemetry.RecordError(span, err, "registry")
		s.failLaunch(ctx, u, "could not record task start", err)
		return
	}
	metrics.TasksRunning.Inc()
	span.SetAttributes(attribute.Int(telemetry.ProcessPIDKey, proc.PID()))

	if n := running.AutoStopMinutes; n > 0 {
		msg := fmt.Sprintf("auto-stopped after %d minutes", n)
		s.sched.Arm(scheduler.Key{TaskID: id, Kind: scheduler.KindAutoStop}, time.Duration(n)*s.cfg.MinuteUnit, func() {
			s.requestStop(u, task.StatusAutoStopped, msg)
		})
	}

	go s.supervise(u, running, handle, proc)

	logger.Info().
		Str(xglog.FieldEvent, "task.launched").
		Str(xglog.FieldOldState, string(task.StatusScheduled)).
		Str(xglog.FieldNewState, string(task.StatusRunning)).
		Int(xglog.FieldPID, proc.PID()).
		Int("auto_stop_minutes", running.AutoStopMinutes).
		Msg("task running")
}

// commitRunning moves the record to running and installs proc while holding
// the unit lock. A stop requested before the commit keeps the record
// scheduled and fails with errStoppedBeforeLaunch; one requested after it
// finds proc installed and terminates it.
func (s *Supervisor) commitRunning(ctx context.Context, u *unit, proc *launcher.Process) (*task.Record, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stop != nil {
		return nil, errStoppedBeforeLaunch
	}
	running, err := s.reg.Transition(ctx, u.id, []task.Status{task.StatusScheduled}, task.StatusRunning, func(r *task.Record) {
		r.Message = "streaming"
		r.ErrorMessage = ""
	})
	if err != nil {
		return nil, err
	}
	u.proc = proc
	u.rtmpURL = running.RTMPURL
	return running, nil
}

// failLaunch finalizes a task that never reached running.
func (s *Supervisor) failLaunch(ctx context.Context, u *unit, message string, cause error) {
	defer s.unregister(u)

	status := task.StatusError
	errMsg := cause.Error()
	if stop := u.stopReason(); stop != nil {
		status, message, errMsg = stop.status, stop.message, stop.errorMessage()
	}

	out, err := s.reg.Transition(context.WithoutCancel(ctx), u.id, []task.Status{task.StatusScheduled}, status, func(r *task.Record) {
		r.Message = message
		r.ErrorMessage = errMsg
	})
	logger := xglog.WithContext(ctx, s.logger)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "task.finalize_failed").Msg("could not record launch failure")
		return
	}
	metrics.ObserveTaskFinalized(string(out.Status), out.RuntimeMinutes)
	logger.Warn().
		Str(xglog.FieldEvent, "task.finalized").
		Str(xglog.FieldOldState, string(task.StatusScheduled)).
		Str(xglog.FieldNewState, string(out.Status)).
		Str(xglog.FieldReason, message).
		AnErr("cause", cause).
		Msg("task failed to start")
}

func launchFailureMessage(op string) string {
	switch op {
	case "open_input":
		return "video file not available"
	case "resolve_binary":
		return "streaming binary not found"
	case "admission":
		return "launch cancelled"
	default:
		return "failed to start ffmpeg"
	}
}

// supervise waits for the process, relaunches after network failures when
// allowed, then finalizes the task.
func (s *Supervisor) supervise(u *unit, rec *task.Record, handle proxyconf.Handle, proc *launcher.Process) {
	var (
		out      launcher.ExitOutcome
		relaunch error
		restarts int
		logger   = s.logger.With().Str(xglog.FieldTaskID, u.id).Logger()
	)

	for {
		out = proc.Wait()
		if !s.shouldRestart(u, out, restarts) {
			break
		}

		logger.Warn().
			Str(xglog.FieldEvent, "process.restart_scheduled").
			Int(xglog.FieldAttempt, restarts+1).
			Str(xglog.FieldReason, launcher.Diagnose(out.Tail)).
			Dur("delay", s.cfg.RestartDelay).
			Msg("network failure, relaunching")

		if !u.sleep(s.cfg.RestartDelay) {
			break
		}

		next, err := s.launch.Launch(u.ctx, rec, handle.Path)
		if err != nil {
			relaunch = err
			break
		}
		restarts++
		u.mu.Lock()
		u.restarts = restarts
		u.mu.Unlock()
		metrics.IncProcRestart()
		logger.Info().
			Str(xglog.FieldEvent, "process.restarted").
			Int(xglog.FieldAttempt, restarts).
			Int(xglog.FieldPID, next.PID()).
			Msg("process relaunched")

		proc = next
		if !u.setProc(next) {
			s.terminate(u, next)
		}
	}

	s.finalize(u, out, restarts, relaunch, handle)
}

func (s *Supervisor) shouldRestart(u *unit, out launcher.ExitOutcome, restarts int) bool {
	if s.cfg.MaxRestarts <= 0 || restarts >= s.cfg.MaxRestarts {
		return false
	}
	if u.stopReason() != nil || out.Kind != launcher.ExitFailure {
		return false
	}
	return launcher.IsNetworkFailure(out.Tail)
}

// finalize performs the running→terminal transition exactly once per unit.
func (s *Supervisor) finalize(u *unit, out launcher.ExitOutcome, restarts int, relaunch error, handle proxyconf.Handle) {
	defer s.unregister(u)

	s.sched.Cancel(scheduler.Key{TaskID: u.id, Kind: scheduler.KindAutoStop})
	s.releaseProxy(handle)
	metrics.TasksRunning.Dec()

	status, message, errMsg := decide(u.stopReason(), out, relaunch)

	ctx := xglog.ContextWithTaskID(context.WithoutCancel(s.ctx), u.id)
	ctx, span := s.tracer.Start(ctx, "task.finalize")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.TaskIDKey, u.id), attribute.String(telemetry.TaskStatusKey, string(status)))
	span.SetAttributes(telemetry.ExitAttributes(string(out.Kind), out.Code)...)

	logger := xglog.WithContext(ctx, s.logger)
	rec, err := s.reg.Transition(ctx, u.id, []task.Status{task.StatusRunning}, status, func(r *task.Record) {
		r.Message = message
		r.ErrorMessage = errMsg
		r.Restarts = restarts
	})
	if err != nil {
		telemetry.RecordError(span, err, "registry")
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "task.finalize_failed").
			Str(xglog.FieldNewState, string(status)).
			Msg("could not record task exit")
		return
	}
	metrics.ObserveTaskFinalized(string(rec.Status), rec.RuntimeMinutes)

	ev := logger.Info()
	if status == task.StatusError {
		ev = logger.Warn()
	}
	ev.Str(xglog.FieldEvent, "task.finalized").
		Str(xglog.FieldOldState, string(task.StatusRunning)).
		Str(xglog.FieldNewState, string(rec.Status)).
		Str(xglog.FieldReason, message).
		Int(xglog.FieldExitCode, out.Code).
		Int("restarts", restarts).
		Msg("task finished")
}

// decide maps the stop reason and exit outcome to the terminal state.
func decide(stop *stopRequest, out launcher.ExitOutcome, relaunch error) (task.Status, string, string) {
	switch {
	case stop != nil:
		return stop.status, stop.message, stop.errorMessage()
	case relaunch != nil:
		return task.StatusError, "relaunch after network failure failed", relaunch.Error()
	case out.Kind == launcher.ExitSuccess:
		return task.StatusCompleted, "stream completed", ""
	case out.Kind == launcher.ExitSignaled:
		return task.StatusError, "ffmpeg terminated by " + out.Signal, tailMessage(out)
	default:
		return task.StatusError, launcher.Diagnose(out.Tail), tailMessage(out)
	}
}

func tailMessage(out launcher.ExitOutcome) string {
	head := fmt.Sprintf("ffmpeg exited with code %d", out.Code)
	if out.Kind == launcher.ExitSignaled {
		head = "ffmpeg killed by " + out.Signal
	}
	lines := launcher.ErrorLines(out.Tail, errorTailLines)
	if len(lines) == 0 {
		return head
	}
	return head + ": " + strings.Join(lines, "\n")
}

func (s *Supervisor) releaseProxy(h proxyconf.Handle) {
	if err := s.proxy.Release(h); err != nil {
		s.logger.Warn().Err(err).
			Str(xglog.FieldTaskID, h.TaskID).
			Str(xglog.FieldEvent, "proxy.release_failed").
			Msg("proxy config not removed")
	}
}
