// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

var errGone = syscall.ESRCH

// Set configures the command to start as leader of a new process group.
// Mandatory for Interrupt, Kill and Terminate to reach grandchildren.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Interrupt sends SIGTERM to the group.
func Interrupt(cmd *exec.Cmd) error { return signalGroup(cmd, syscall.SIGTERM) }

// Kill sends SIGKILL to the group.
func Kill(cmd *exec.Cmd) error { return signalGroup(cmd, syscall.SIGKILL) }

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// Setpgid makes the leader's pid the pgid; a negative pid targets the group.
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("signal group %d: %w", pid, errGone)
		}
		// Group signalling can be refused; fall back to the leader alone.
		if perr := cmd.Process.Signal(sig); perr != nil {
			return fmt.Errorf("signal %d: %w", pid, err)
		}
	}
	return nil
}
