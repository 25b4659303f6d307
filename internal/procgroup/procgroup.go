// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts children in their own process group and tears the
// whole group down, so wrappers such as proxychains4 never leave an orphaned
// ffmpeg behind.
package procgroup

import (
	"errors"
	"os/exec"
	"time"

	"github.com/ManuGH/restream/internal/metrics"
)

// ErrKillFailed is returned when the group did not exit after SIGKILL.
var ErrKillFailed = errors.New("process group did not exit after kill")

// Terminate stops the group led by cmd. It sends the polite signal, waits up
// to grace for exited to close, escalates to the forced signal and waits up to
// kill more. exited must be closed by whoever owns cmd.Wait.
// It is safe to call on nil or unstarted commands.
func Terminate(cmd *exec.Cmd, exited <-chan struct{}, grace, kill time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-exited:
		return nil
	default:
	}

	recordSignal("SIGTERM", Interrupt(cmd))

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-exited:
		return nil
	case <-graceTimer.C:
	}

	recordSignal("SIGKILL", Kill(cmd))

	killTimer := time.NewTimer(kill)
	defer killTimer.Stop()
	select {
	case <-exited:
		return nil
	case <-killTimer.C:
		return ErrKillFailed
	}
}

func recordSignal(sig string, err error) {
	switch {
	case err == nil:
		metrics.IncProcTerminate(sig, "sent")
	case errors.Is(err, errGone):
		metrics.IncProcTerminate(sig, "esrch")
	default:
		metrics.IncProcTerminate(sig, "error")
	}
}
