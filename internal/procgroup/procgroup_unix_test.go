// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan struct{}) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		_ = Kill(cmd)
		<-exited
	})
	return cmd, exited
}

// groupAlive reports whether any non-zombie process is left in the group.
// Orphans reparented to a non-reaping init linger as zombies, so /proc is
// consulted where it exists.
func groupAlive(pgid int) bool {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return syscall.Kill(-pgid, syscall.Signal(0)) == nil
	}
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		state, pgrp, ok := procStat(filepath.Join("/proc", e.Name(), "stat"))
		if ok && pgrp == pgid && state != "Z" && state != "X" {
			return true
		}
	}
	return false
}

// procStat reads the state and process group from a /proc/<pid>/stat file:
// "pid (comm) state ppid pgrp ...". comm may contain spaces and parens.
func procStat(path string) (state string, pgrp int, ok bool) {
	data, err := os.ReadFile(path) // #nosec G304 -- test reads /proc
	if err != nil {
		return "", 0, false
	}
	i := strings.LastIndexByte(string(data), ')')
	if i < 0 {
		return "", 0, false
	}
	fields := strings.Fields(string(data[i+1:]))
	if len(fields) < 3 {
		return "", 0, false
	}
	pgrp, err = strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, false
	}
	return fields[0], pgrp, true
}

func TestProcStat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	require.NoError(t, os.WriteFile(path, []byte("4242 (ff mpeg) (x)) Z 1 4200 4200 0 -1\n"), 0o600))
	state, pgrp, ok := procStat(path)
	require.True(t, ok)
	assert.Equal(t, "Z", state)
	assert.Equal(t, 4200, pgrp)
}

func TestSetMakesGroupLeader(t *testing.T) {
	cmd, _ := startGroup(t, "sleep 10")
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid)
}

func TestTerminate_GracefulReachesChildren(t *testing.T) {
	cmd, exited := startGroup(t, "sleep 10 & sleep 10")
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, Terminate(cmd, exited, 2*time.Second, time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Eventually(t, func() bool { return !groupAlive(cmd.Process.Pid) },
		time.Second, 20*time.Millisecond, "background child must die with the group")
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	cmd, exited := startGroup(t, "trap '' TERM; while true; do sleep 1; done")
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, Terminate(cmd, exited, 200*time.Millisecond, 2*time.Second))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	state := cmd.ProcessState
	require.NotNil(t, state)
	ws, ok := state.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.True(t, ws.Signaled())
	assert.Equal(t, syscall.SIGKILL, ws.Signal())
}

func TestTerminate_AlreadyExited(t *testing.T) {
	cmd, exited := startGroup(t, "exit 0")
	<-exited
	assert.NoError(t, Terminate(cmd, exited, time.Second, time.Second))
}

func TestNilCommandsAreSafe(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, time.Second, time.Second))
	assert.NoError(t, Interrupt(nil))
	assert.NoError(t, Kill(&exec.Cmd{}))
}

func TestSignalGoneGroup(t *testing.T) {
	cmd, exited := startGroup(t, "exit 0")
	<-exited
	err := Interrupt(cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ESRCH)
}
