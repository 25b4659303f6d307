// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// FieldError is one rejected setting.
type FieldError struct {
	Field   string
	Value   any
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError bundles every rejected setting of a config.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return strings.Join(msgs, "; ")
}

type validator struct {
	errs []FieldError
}

func (v *validator) add(field, msg string, value any) {
	v.errs = append(v.errs, FieldError{Field: field, Value: value, Message: msg})
}

func (v *validator) notEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "must not be empty", value)
	}
}

func (v *validator) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.add(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")), value)
}

func (v *validator) nonNegative(field string, d time.Duration) {
	if d < 0 {
		v.add(field, "must not be negative", d.String())
	}
}

func (v *validator) minInt(field string, value, minVal int) {
	if value < minVal {
		v.add(field, fmt.Sprintf("must be at least %d, got %d", minVal, value), value)
	}
}

func (v *validator) percent(field string, value float64) {
	if value < 0 || value > 100 {
		v.add(field, "must be between 0 and 100", value)
	}
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: append([]FieldError(nil), v.errs...)}
}

// Validate checks a resolved config.
func Validate(cfg AppConfig) error {
	v := &validator{}

	v.notEmpty("DataDir", cfg.DataDir)
	v.notEmpty("VideoDir", cfg.VideoDir)
	v.notEmpty("ProxyDir", cfg.ProxyDir)
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		v.add("LogLevel", "unknown log level", cfg.LogLevel)
	}

	v.oneOf("Registry.Backend", cfg.Registry.Backend, "memory", "sqlite", "redis", "badger")
	switch cfg.Registry.Backend {
	case "sqlite", "badger":
		v.notEmpty("Registry.Path", cfg.Registry.Path)
	case "redis":
		v.notEmpty("Registry.RedisAddr", cfg.Registry.RedisAddr)
		v.minInt("Registry.RedisDB", cfg.Registry.RedisDB, 0)
	}

	v.notEmpty("FFmpeg.Bin", cfg.FFmpeg.Bin)
	v.notEmpty("FFmpeg.ProxychainsBin", cfg.FFmpeg.ProxychainsBin)
	v.nonNegative("FFmpeg.TermGrace", cfg.FFmpeg.TermGrace)
	v.nonNegative("FFmpeg.KillTimeout", cfg.FFmpeg.KillTimeout)
	v.minInt("FFmpeg.StderrLines", cfg.FFmpeg.StderrLines, 1)

	v.minInt("Tasks.DefaultListLimit", cfg.Tasks.DefaultListLimit, 1)
	v.minInt("Tasks.MaxRestarts", cfg.Tasks.MaxRestarts, 0)
	v.nonNegative("Tasks.RestartDelay", cfg.Tasks.RestartDelay)
	if cfg.Tasks.LaunchRate < 0 {
		v.add("Tasks.LaunchRate", "must not be negative", cfg.Tasks.LaunchRate)
	}
	if cfg.Tasks.LaunchRate > 0 {
		v.minInt("Tasks.LaunchBurst", cfg.Tasks.LaunchBurst, 1)
	}

	v.minInt("Ops.RateLimit", cfg.Ops.RateLimit, 0)

	v.nonNegative("Monitor.Interval", cfg.Monitor.Interval)
	if cfg.Monitor.Interval > 0 && cfg.Monitor.DialTimeout <= 0 {
		v.add("Monitor.DialTimeout", "must be positive when the monitor runs", cfg.Monitor.DialTimeout)
	}
	v.percent("Monitor.CPUWarnPercent", cfg.Monitor.CPUWarnPercent)
	v.percent("Monitor.MemoryWarnPercent", cfg.Monitor.MemoryWarnPercent)

	if cfg.Telemetry.Enabled {
		v.oneOf("Telemetry.Exporter", cfg.Telemetry.Exporter, "grpc", "http")
		v.notEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		v.add("Telemetry.SamplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
	}

	return v.err()
}
