// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func testLoader(path string, env map[string]string) *Loader {
	l := NewLoader(path, "v-test")
	l.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return l
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := testLoader("", map[string]string{"RESTREAM_DATA_DIR": dir}).Load()
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "videos"), cfg.VideoDir)
	assert.Equal(t, "sqlite", cfg.Registry.Backend)
	assert.Equal(t, filepath.Join(dir, "tasks.db"), cfg.Registry.Path)
	assert.Equal(t, "ffmpeg", cfg.FFmpeg.Bin)
	assert.Equal(t, "proxychains4", cfg.FFmpeg.ProxychainsBin)
	assert.Equal(t, 10, cfg.Tasks.DefaultListLimit)
	assert.Equal(t, 5*time.Second, cfg.FFmpeg.TermGrace)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
dataDir: `+dir+`
logLevel: debug
registry:
  backend: badger
ffmpeg:
  bin: /opt/ffmpeg/bin/ffmpeg
  termGrace: 3s
tasks:
  maxRestarts: 0
  launchRate: 2.5
  launchBurst: 4
monitor:
  interval: 1m
  cpuWarnPercent: 90
`)

	l := testLoader(path, map[string]string{
		"RESTREAM_LOG_LEVEL":             "warn",
		"RESTREAM_LIST_LIMIT":            "25",
		"RESTREAM_RESTART_DELAY":         "750ms",
		"RESTREAM_MONITOR_DIAL_TIMEOUT": "1s",
	})
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel, "env beats file")
	assert.Equal(t, "badger", cfg.Registry.Backend)
	assert.Equal(t, filepath.Join(dir, "tasks.badger"), cfg.Registry.Path)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpeg.Bin)
	assert.Equal(t, 3*time.Second, cfg.FFmpeg.TermGrace)
	assert.Equal(t, 0, cfg.Tasks.MaxRestarts, "explicit zero overrides default")
	assert.Equal(t, 2.5, cfg.Tasks.LaunchRate)
	assert.Equal(t, 4, cfg.Tasks.LaunchBurst)
	assert.Equal(t, 25, cfg.Tasks.DefaultListLimit)
	assert.Equal(t, 750*time.Millisecond, cfg.Tasks.RestartDelay)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, time.Second, cfg.Monitor.DialTimeout)
	assert.Equal(t, 90.0, cfg.Monitor.CPUWarnPercent)
	assert.Equal(t, 85.0, cfg.Monitor.MemoryWarnPercent)
	assert.Equal(t, []string{"RESTREAM_LIST_LIMIT", "RESTREAM_LOG_LEVEL", "RESTREAM_MONITOR_DIAL_TIMEOUT", "RESTREAM_RESTART_DELAY"}, l.ConsumedEnvKeys)
}

func TestLoad_StrictFile(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	writeFile(t, unknown, "dataDir: "+dir+"\nvideoDirectory: x\n")
	_, err := testLoader(unknown, nil).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)

	multi := filepath.Join(dir, "multi.yaml")
	writeFile(t, multi, "dataDir: "+dir+"\n---\nlogLevel: info\n")
	_, err = testLoader(multi, nil).Load()
	assert.ErrorIs(t, err, ErrTrailingContent)

	json := filepath.Join(dir, "config.json")
	writeFile(t, json, "{}")
	_, err = testLoader(json, nil).Load()
	assert.ErrorContains(t, err, "only YAML supported")

	badDur := filepath.Join(dir, "dur.yaml")
	writeFile(t, badDur, "dataDir: "+dir+"\ntasks:\n  restartDelay: soon\n")
	_, err = testLoader(badDur, nil).Load()
	assert.ErrorContains(t, err, "tasks.restartDelay")

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "")
	_, err = testLoader(empty, map[string]string{"RESTREAM_DATA_DIR": dir}).Load()
	assert.NoError(t, err)
}

func TestLoad_MalformedEnvFails(t *testing.T) {
	_, err := testLoader("", map[string]string{
		"RESTREAM_DATA_DIR":        t.TempDir(),
		"RESTREAM_MAX_RESTARTS":    "three",
		"RESTREAM_TRACING_ENABLED": "maybe",
	}).Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "RESTREAM_MAX_RESTARTS")
	assert.ErrorContains(t, err, "RESTREAM_TRACING_ENABLED")
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.DataDir = "/data"
	valid.Registry.Path = "/data/tasks.db"
	require.NoError(t, Validate(valid))

	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"unknown backend", func(c *AppConfig) { c.Registry.Backend = "etcd" }, "Registry.Backend"},
		{"redis without addr", func(c *AppConfig) { c.Registry.Backend = "redis" }, "Registry.RedisAddr"},
		{"empty ffmpeg", func(c *AppConfig) { c.FFmpeg.Bin = " " }, "FFmpeg.Bin"},
		{"empty proxychains", func(c *AppConfig) { c.FFmpeg.ProxychainsBin = "" }, "FFmpeg.ProxychainsBin"},
		{"negative grace", func(c *AppConfig) { c.FFmpeg.TermGrace = -time.Second }, "FFmpeg.TermGrace"},
		{"negative restart delay", func(c *AppConfig) { c.Tasks.RestartDelay = -1 }, "Tasks.RestartDelay"},
		{"zero list limit", func(c *AppConfig) { c.Tasks.DefaultListLimit = 0 }, "Tasks.DefaultListLimit"},
		{"bad log level", func(c *AppConfig) { c.LogLevel = "loud" }, "LogLevel"},
		{"tracing without endpoint", func(c *AppConfig) { c.Telemetry.Enabled = true }, "Telemetry.Endpoint"},
		{"sampling out of range", func(c *AppConfig) { c.Telemetry.SamplingRate = 2 }, "Telemetry.SamplingRate"},
		{"monitor without dial timeout", func(c *AppConfig) { c.Monitor.DialTimeout = 0 }, "Monitor.DialTimeout"},
		{"cpu threshold over 100", func(c *AppConfig) { c.Monitor.CPUWarnPercent = 150 }, "Monitor.CPUWarnPercent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			fields := make([]string, len(verr.Fields))
			for i, f := range verr.Fields {
				fields[i] = f.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestHolder_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "dataDir: "+dir+"\nlogLevel: info\n")

	loader := testLoader(path, nil)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	h.debounce = 20 * time.Millisecond
	levels := make(chan string, 4)
	h.OnReload(func(_, next AppConfig) {
		select {
		case levels <- next.LogLevel:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// The watcher registers asynchronously; rewrite until a reload lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case lvl := <-levels:
			assert.Equal(t, "debug", lvl)
			assert.Equal(t, "debug", h.Get().LogLevel)
			return
		case <-tick.C:
			writeFile(t, path, "dataDir: "+dir+"\nlogLevel: debug\n")
		case <-deadline:
			t.Fatal("config reload not observed")
		}
	}
}

func TestHolder_ReloadKeepsCurrentOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "dataDir: "+dir+"\n")
	loader := testLoader(path, nil)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	writeFile(t, path, "dataDir: "+dir+"\nregistry:\n  backend: etcd\n")
	require.Error(t, h.Reload())
	assert.Equal(t, "sqlite", h.Get().Registry.Backend)
}
