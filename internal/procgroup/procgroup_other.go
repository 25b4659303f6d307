// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"errors"
	"os"
	"os/exec"
)

var errGone = os.ErrProcessDone

// Set is a no-op on platforms without process groups.
func Set(cmd *exec.Cmd) {}

// Interrupt kills the process; there is no portable polite signal.
func Interrupt(cmd *exec.Cmd) error { return Kill(cmd) }

// Kill kills the process.
func Kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
