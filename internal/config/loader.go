// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xglog "github.com/ManuGH/restream/internal/log"
)

// Loader resolves an AppConfig.
type Loader struct {
	configPath string
	version    string
	lookup     func(string) (string, bool)

	// ConsumedEnvKeys lists the environment keys used by the last Load.
	ConsumedEnvKeys []string
}

// NewLoader creates a loader. An empty configPath uses defaults and ENV only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version, lookup: os.LookupEnv}
}

// Path returns the config file path, if any.
func (l *Loader) Path() string { return l.configPath }

// Load applies defaults, then the file, then the environment, and validates
// the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge config file: %w", err)
		}
	}

	env := newEnvReader(l.lookup, xglog.WithComponent("config"))
	mergeEnv(&cfg, env)
	consumed := env.Consumed()
	sort.Strings(consumed)
	l.ConsumedEnvKeys = consumed
	if len(env.errs) > 0 {
		return cfg, fmt.Errorf("environment: %w", errors.Join(env.errs...))
	}

	if err := resolvePaths(&cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile parses YAML strictly: unknown keys and trailing documents fail.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingContent
	}
	return &fileCfg, nil
}

func mergeFile(cfg *AppConfig, f *FileConfig) error {
	setString(&cfg.DataDir, f.DataDir)
	setString(&cfg.VideoDir, f.VideoDir)
	setString(&cfg.ProxyDir, f.ProxyDir)
	setString(&cfg.LogLevel, f.LogLevel)
	setString(&cfg.LogService, f.LogService)

	if r := f.Registry; r != nil {
		setString(&cfg.Registry.Backend, r.Backend)
		setString(&cfg.Registry.Path, r.Path)
		setString(&cfg.Registry.RedisAddr, r.RedisAddr)
		setString(&cfg.Registry.RedisPassword, r.RedisPassword)
		setString(&cfg.Registry.KeyPrefix, r.KeyPrefix)
		setPtr(&cfg.Registry.RedisDB, r.RedisDB)
	}

	var errs []error
	if x := f.FFmpeg; x != nil {
		setString(&cfg.FFmpeg.Bin, x.Bin)
		setString(&cfg.FFmpeg.ProxychainsBin, x.ProxychainsBin)
		errs = append(errs,
			setDuration(&cfg.FFmpeg.TermGrace, "ffmpeg.termGrace", x.TermGrace),
			setDuration(&cfg.FFmpeg.KillTimeout, "ffmpeg.killTimeout", x.KillTimeout))
		setPtr(&cfg.FFmpeg.StderrLines, x.StderrLines)
	}

	if t := f.Tasks; t != nil {
		setPtr(&cfg.Tasks.DefaultListLimit, t.DefaultListLimit)
		setPtr(&cfg.Tasks.MaxRestarts, t.MaxRestarts)
		errs = append(errs, setDuration(&cfg.Tasks.RestartDelay, "tasks.restartDelay", t.RestartDelay))
		setPtr(&cfg.Tasks.LaunchRate, t.LaunchRate)
		setPtr(&cfg.Tasks.LaunchBurst, t.LaunchBurst)
	}

	if o := f.Ops; o != nil {
		setString(&cfg.Ops.ListenAddr, o.ListenAddr)
		setPtr(&cfg.Ops.RateLimit, o.RateLimit)
	}

	if m := f.Monitor; m != nil {
		errs = append(errs,
			setDuration(&cfg.Monitor.Interval, "monitor.interval", m.Interval),
			setDuration(&cfg.Monitor.DialTimeout, "monitor.dialTimeout", m.DialTimeout))
		setPtr(&cfg.Monitor.CPUWarnPercent, m.CPUWarnPercent)
		setPtr(&cfg.Monitor.MemoryWarnPercent, m.MemoryWarnPercent)
	}

	if t := f.Telemetry; t != nil {
		setPtr(&cfg.Telemetry.Enabled, t.Enabled)
		setString(&cfg.Telemetry.Exporter, t.Exporter)
		setString(&cfg.Telemetry.Endpoint, t.Endpoint)
		setPtr(&cfg.Telemetry.SamplingRate, t.SamplingRate)
	}
	return errors.Join(errs...)
}

func mergeEnv(cfg *AppConfig, env *envReader) {
	cfg.DataDir = env.String(EnvPrefix+"DATA_DIR", cfg.DataDir)
	cfg.VideoDir = env.String(EnvPrefix+"VIDEO_DIR", cfg.VideoDir)
	cfg.ProxyDir = env.String(EnvPrefix+"PROXY_DIR", cfg.ProxyDir)
	cfg.LogLevel = env.String(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = env.String(EnvPrefix+"LOG_SERVICE", cfg.LogService)

	cfg.Registry.Backend = env.String(EnvPrefix+"REGISTRY_BACKEND", cfg.Registry.Backend)
	cfg.Registry.Path = env.String(EnvPrefix+"REGISTRY_PATH", cfg.Registry.Path)
	cfg.Registry.RedisAddr = env.String(EnvPrefix+"REDIS_ADDR", cfg.Registry.RedisAddr)
	cfg.Registry.RedisPassword = env.String(EnvPrefix+"REDIS_PASSWORD", cfg.Registry.RedisPassword)
	cfg.Registry.RedisDB = env.Int(EnvPrefix+"REDIS_DB", cfg.Registry.RedisDB)
	cfg.Registry.KeyPrefix = env.String(EnvPrefix+"REDIS_KEY_PREFIX", cfg.Registry.KeyPrefix)

	cfg.FFmpeg.Bin = env.String(EnvPrefix+"FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.ProxychainsBin = env.String(EnvPrefix+"PROXYCHAINS_BIN", cfg.FFmpeg.ProxychainsBin)
	cfg.FFmpeg.TermGrace = env.Duration(EnvPrefix+"FFMPEG_TERM_GRACE", cfg.FFmpeg.TermGrace)
	cfg.FFmpeg.KillTimeout = env.Duration(EnvPrefix+"FFMPEG_KILL_TIMEOUT", cfg.FFmpeg.KillTimeout)
	cfg.FFmpeg.StderrLines = env.Int(EnvPrefix+"FFMPEG_STDERR_LINES", cfg.FFmpeg.StderrLines)

	cfg.Tasks.DefaultListLimit = env.Int(EnvPrefix+"LIST_LIMIT", cfg.Tasks.DefaultListLimit)
	cfg.Tasks.MaxRestarts = env.Int(EnvPrefix+"MAX_RESTARTS", cfg.Tasks.MaxRestarts)
	cfg.Tasks.RestartDelay = env.Duration(EnvPrefix+"RESTART_DELAY", cfg.Tasks.RestartDelay)
	cfg.Tasks.LaunchRate = env.Float(EnvPrefix+"LAUNCH_RATE", cfg.Tasks.LaunchRate)
	cfg.Tasks.LaunchBurst = env.Int(EnvPrefix+"LAUNCH_BURST", cfg.Tasks.LaunchBurst)

	cfg.Ops.ListenAddr = env.String(EnvPrefix+"OPS_ADDR", cfg.Ops.ListenAddr)
	cfg.Ops.RateLimit = env.Int(EnvPrefix+"OPS_RATE_LIMIT", cfg.Ops.RateLimit)

	cfg.Monitor.Interval = env.Duration(EnvPrefix+"MONITOR_INTERVAL", cfg.Monitor.Interval)
	cfg.Monitor.DialTimeout = env.Duration(EnvPrefix+"MONITOR_DIAL_TIMEOUT", cfg.Monitor.DialTimeout)
	cfg.Monitor.CPUWarnPercent = env.Float(EnvPrefix+"MONITOR_CPU_WARN", cfg.Monitor.CPUWarnPercent)
	cfg.Monitor.MemoryWarnPercent = env.Float(EnvPrefix+"MONITOR_MEMORY_WARN", cfg.Monitor.MemoryWarnPercent)

	cfg.Telemetry.Enabled = env.Bool(EnvPrefix+"TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = env.String(EnvPrefix+"TRACING_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = env.String(EnvPrefix+"TRACING_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = env.Float(EnvPrefix+"TRACING_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// resolvePaths makes directories absolute. Relative video and registry
// paths live under DataDir.
func resolvePaths(cfg *AppConfig) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil
	}
	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = abs

	if cfg.VideoDir != "" && !filepath.IsAbs(cfg.VideoDir) {
		cfg.VideoDir = filepath.Join(abs, cfg.VideoDir)
	}
	if cfg.Registry.Path == "" {
		switch cfg.Registry.Backend {
		case "sqlite":
			cfg.Registry.Path = filepath.Join(abs, "tasks.db")
		case "badger":
			cfg.Registry.Path = filepath.Join(abs, "tasks.badger")
		}
	} else if !filepath.IsAbs(cfg.Registry.Path) {
		cfg.Registry.Path = filepath.Join(abs, cfg.Registry.Path)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
