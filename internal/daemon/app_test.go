// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/restream/internal/config"
	"github.com/ManuGH/restream/internal/health"
	"github.com/ManuGH/restream/internal/task"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Version = "v-test"
	cfg.DataDir = dir
	cfg.VideoDir = filepath.Join(dir, "videos")
	cfg.ProxyDir = filepath.Join(dir, "proxy")
	cfg.Registry.Backend = "sqlite"
	cfg.Registry.Path = filepath.Join(dir, "tasks.db")
	cfg.Ops.ListenAddr = "127.0.0.1:0"
	cfg.Ops.RateLimit = 0
	cfg.FFmpeg.TermGrace = time.Second
	cfg.FFmpeg.KillTimeout = time.Second

	require.NoError(t, os.MkdirAll(cfg.VideoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.VideoDir, "clip.mp4"), []byte("fake"), 0o644))
	ffmpeg := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpeg, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	cfg.FFmpeg.Bin = ffmpeg
	cfg.FFmpeg.ProxychainsBin = filepath.Join(dir, "missing-proxychains")
	return cfg
}

func TestNewApp_RequiresRuntime(t *testing.T) {
	_, err := NewApp(nil, nil)
	assert.ErrorIs(t, err, ErrMissingRuntime)
}

func TestApp_RunServesAndStopsTasksOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := Bootstrap(ctx, cfg)
	require.NoError(t, err)
	app, err := NewApp(rt, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	var addr string
	select {
	case addr = <-app.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("ops listener not ready")
	}

	res, err := http.Get("http://" + addr + "/readyz?verbose=true")
	require.NoError(t, err)
	var body health.Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, body.Ready)
	assert.Equal(t, health.StatusDegraded, body.Status, "missing proxychains degrades")

	rec, err := rt.Supervisor.Submit(ctx, task.Spec{
		VideoFilename: "clip.mp4",
		RTMPURL:       "rtmp://live.example.com/app/key",
		TaskName:      "daemon test",
	})
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, rec.Status)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The sqlite file outlives the runtime; reopen it to inspect the outcome.
	rt2, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = rt2.Close(context.Background()) }()
	got, err := rt2.Registry.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusStopped, got.Status)
	assert.Equal(t, "stopped by service shutdown", got.Message)
	assert.NotNil(t, got.EndTime)
}

func TestApp_ListenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ops.ListenAddr = "127.0.0.1:-1"

	rt, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	app, err := NewApp(rt, nil)
	require.NoError(t, err)

	err = app.Run(context.Background())
	assert.ErrorIs(t, err, ErrServerStartFailed)
}

func TestApp_ApplyReloadChangesLevel(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	app, err := NewApp(rt, nil)
	require.NoError(t, err)

	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	next := cfg
	next.LogLevel = "debug"
	app.applyReload(cfg, next)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
