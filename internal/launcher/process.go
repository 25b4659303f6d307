// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package launcher

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/procgroup"
)

// ExitKind classifies how a process ended.
type ExitKind string

const (
	ExitSuccess  ExitKind = "success"
	ExitFailure  ExitKind = "failure"
	ExitSignaled ExitKind = "signaled"
)

// ExitOutcome is the reaped result of a process.
type ExitOutcome struct {
	Kind     ExitKind
	Code     int
	Signal   string
	Tail     []string
	Err      error
	Duration time.Duration
}

// Process is a started child. A single internal goroutine reaps it.
type Process struct {
	cmd     *exec.Cmd
	ring    *LineRing
	started time.Time
	done    chan struct{}
	outcome ExitOutcome
}

func startProcess(cmd *exec.Cmd, stderr io.Reader, ring *LineRing, logger zerolog.Logger) *Process {
	p := &Process{
		cmd:     cmd,
		ring:    ring,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			ring.Add(line)
			logger.Debug().Str(xglog.FieldEvent, "process.stderr").Msg(line)
		}
	}()

	go func() {
		// All reads must finish before Wait closes the pipe.
		<-drained
		err := cmd.Wait()
		p.outcome = classify(cmd, err)
		p.outcome.Duration = time.Since(p.started)
		p.outcome.Tail = ring.LastN(len(ring.lines))
		metrics.IncProcExit(string(p.outcome.Kind))
		logger.Info().
			Str(xglog.FieldEvent, "process.exited").
			Str("kind", string(p.outcome.Kind)).
			Int(xglog.FieldExitCode, p.outcome.Code).
			Str(xglog.FieldSignal, p.outcome.Signal).
			Dur("uptime", p.outcome.Duration).
			Msg("ffmpeg exited")
		close(p.done)
	}()
	return p
}

func classify(cmd *exec.Cmd, err error) ExitOutcome {
	if err == nil {
		return ExitOutcome{Kind: ExitSuccess}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if sig, ok := signalOf(exitErr.ProcessState); ok {
			return ExitOutcome{Kind: ExitSignaled, Code: -1, Signal: sig, Err: err}
		}
		return ExitOutcome{Kind: ExitFailure, Code: exitErr.ExitCode(), Err: err}
	}
	if cmd.ProcessState != nil {
		return ExitOutcome{Kind: ExitFailure, Code: cmd.ProcessState.ExitCode(), Err: err}
	}
	return ExitOutcome{Kind: ExitFailure, Code: -1, Err: err}
}

// PID returns the process id (also the process group id).
func (p *Process) PID() int { return p.cmd.Process.Pid }

// StartedAt returns when the process was started.
func (p *Process) StartedAt() time.Time { return p.started }

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process is reaped. Safe for concurrent callers.
func (p *Process) Wait() ExitOutcome {
	<-p.done
	return p.outcome
}

// Tail returns up to n recent stderr lines.
func (p *Process) Tail(n int) []string { return p.ring.LastN(n) }

// Terminate stops the whole process group: polite signal, grace, forced
// signal, kill timeout. Returns once reaped or procgroup.ErrKillFailed.
func (p *Process) Terminate(grace, kill time.Duration) error {
	return procgroup.Terminate(p.cmd, p.done, grace, kill)
}
