// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires restreamd: it builds the task runtime from config and
// owns its lifecycle from recovery to graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/restream/internal/config"
	"github.com/ManuGH/restream/internal/health"
	"github.com/ManuGH/restream/internal/launcher"
	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/monitor"
	"github.com/ManuGH/restream/internal/proxyconf"
	"github.com/ManuGH/restream/internal/registry"
	"github.com/ManuGH/restream/internal/scheduler"
	"github.com/ManuGH/restream/internal/supervisor"
	"github.com/ManuGH/restream/internal/telemetry"
)

// Runtime holds the long-lived collaborators built from config.
type Runtime struct {
	Config     config.AppConfig
	Registry   registry.Registry
	Supervisor *supervisor.Supervisor
	Health     *health.Manager
	Monitor    *monitor.Monitor

	telemetry *telemetry.Provider
}

// Bootstrap builds a Runtime. The supervisor has not recovered yet; App.Run
// does that before serving.
func Bootstrap(ctx context.Context, cfg config.AppConfig) (*Runtime, error) {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg, err := registry.Open(registry.Config{
		Backend: cfg.Registry.Backend,
		Path:    cfg.Registry.Path,
		Redis: registry.RedisConfig{
			Addr:     cfg.Registry.RedisAddr,
			Password: cfg.Registry.RedisPassword,
			DB:       cfg.Registry.RedisDB,
			Prefix:   cfg.Registry.KeyPrefix,
		},
	})
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("open registry: %w", err)
	}

	proxy, err := proxyconf.NewManager(cfg.ProxyDir)
	if err != nil {
		_ = reg.Close()
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("proxy config manager: %w", err)
	}

	sup := supervisor.New(supervisor.Config{
		MaxRestarts:      cfg.Tasks.MaxRestarts,
		RestartDelay:     cfg.Tasks.RestartDelay,
		TermGrace:        cfg.FFmpeg.TermGrace,
		KillTimeout:      cfg.FFmpeg.KillTimeout,
		DefaultListLimit: cfg.Tasks.DefaultListLimit,
	}, supervisor.Deps{
		Registry: reg,
		Launcher: launcher.New(launcher.Config{
			FFmpegBin:      cfg.FFmpeg.Bin,
			ProxychainsBin: cfg.FFmpeg.ProxychainsBin,
			VideoDir:       cfg.VideoDir,
			StderrLines:    cfg.FFmpeg.StderrLines,
			LaunchRate:     cfg.Tasks.LaunchRate,
			LaunchBurst:    cfg.Tasks.LaunchBurst,
		}),
		Proxy:     proxy,
		Scheduler: scheduler.New(scheduler.RealClock{}),
	})

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewFuncChecker("registry", func(ctx context.Context) error {
		return registry.Check(ctx, reg)
	}))
	hm.RegisterChecker(health.NewDirChecker("video_dir", cfg.VideoDir))
	hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.FFmpeg.Bin, false))
	hm.RegisterChecker(health.NewBinaryChecker("proxychains", cfg.FFmpeg.ProxychainsBin, true))
	hm.SetDetails(func() map[string]any {
		return map[string]any{
			"active_tasks":     sup.Active(),
			"registry_backend": cfg.Registry.Backend,
		}
	})

	mon := monitor.New(monitor.Config{
		Interval:          cfg.Monitor.Interval,
		DialTimeout:       cfg.Monitor.DialTimeout,
		CPUWarnPercent:    cfg.Monitor.CPUWarnPercent,
		MemoryWarnPercent: cfg.Monitor.MemoryWarnPercent,
	}, sup)

	logger := xglog.WithComponent("daemon")
	logger.Info().
		Str(xglog.FieldEvent, "daemon.bootstrapped").
		Str(xglog.FieldBackend, cfg.Registry.Backend).
		Str("video_dir", cfg.VideoDir).
		Bool("tracing", cfg.Telemetry.Enabled).
		Msg("runtime built")

	return &Runtime{
		Config:     cfg,
		Registry:   reg,
		Supervisor: sup,
		Health:     hm,
		Monitor:    mon,
		telemetry:  tp,
	}, nil
}

// Close releases the registry and flushes traces. Call after the
// supervisor has shut down.
func (rt *Runtime) Close(ctx context.Context) error {
	return errors.Join(
		rt.Registry.Close(),
		rt.telemetry.Shutdown(ctx),
	)
}
