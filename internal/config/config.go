// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads restreamd configuration from defaults, an optional
// strict YAML file and RESTREAM_* environment variables, in that order.
package config

import (
	"time"
)

// AppConfig is the resolved daemon configuration.
type AppConfig struct {
	Version string

	DataDir    string
	VideoDir   string
	ProxyDir   string
	LogLevel   string
	LogService string

	Registry  RegistryConfig
	FFmpeg    FFmpegConfig
	Tasks     TasksConfig
	Ops       OpsConfig
	Monitor   MonitorConfig
	Telemetry TelemetryConfig
}

// RegistryConfig selects the task registry backend.
type RegistryConfig struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// FFmpegConfig locates the binaries and bounds process termination.
type FFmpegConfig struct {
	Bin            string
	ProxychainsBin string
	TermGrace      time.Duration
	KillTimeout    time.Duration
	StderrLines    int
}

// TasksConfig tunes supervision.
type TasksConfig struct {
	DefaultListLimit int
	MaxRestarts      int
	RestartDelay     time.Duration
	// LaunchRate is launches per second; zero disables admission control.
	LaunchRate  float64
	LaunchBurst int
}

// OpsConfig configures the health and metrics listener.
type OpsConfig struct {
	ListenAddr string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

// MonitorConfig tunes the periodic liveness sweep. A zero Interval
// disables it.
type MonitorConfig struct {
	Interval          time.Duration
	DialTimeout      time.Duration
	CPUWarnPercent    float64
	MemoryWarnPercent float64
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// FileConfig mirrors the YAML file. Pointers distinguish unset from zero.
type FileConfig struct {
	DataDir    string `yaml:"dataDir,omitempty"`
	VideoDir   string `yaml:"videoDir,omitempty"`
	ProxyDir   string `yaml:"proxyDir,omitempty"`
	LogLevel   string `yaml:"logLevel,omitempty"`
	LogService string `yaml:"logService,omitempty"`

	Registry  *RegistryFile  `yaml:"registry,omitempty"`
	FFmpeg    *FFmpegFile    `yaml:"ffmpeg,omitempty"`
	Tasks     *TasksFile     `yaml:"tasks,omitempty"`
	Ops       *OpsFile       `yaml:"ops,omitempty"`
	Monitor   *MonitorFile   `yaml:"monitor,omitempty"`
	Telemetry *TelemetryFile `yaml:"telemetry,omitempty"`
}

type RegistryFile struct {
	Backend       string `yaml:"backend,omitempty"`
	Path          string `yaml:"path,omitempty"`
	RedisAddr     string `yaml:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       *int   `yaml:"redisDB,omitempty"`
	KeyPrefix     string `yaml:"keyPrefix,omitempty"`
}

type FFmpegFile struct {
	Bin            string `yaml:"bin,omitempty"`
	ProxychainsBin string `yaml:"proxychainsBin,omitempty"`
	TermGrace      string `yaml:"termGrace,omitempty"`
	KillTimeout    string `yaml:"killTimeout,omitempty"`
	StderrLines    *int   `yaml:"stderrLines,omitempty"`
}

type TasksFile struct {
	DefaultListLimit *int     `yaml:"defaultListLimit,omitempty"`
	MaxRestarts      *int     `yaml:"maxRestarts,omitempty"`
	RestartDelay     string   `yaml:"restartDelay,omitempty"`
	LaunchRate       *float64 `yaml:"launchRate,omitempty"`
	LaunchBurst      *int     `yaml:"launchBurst,omitempty"`
}

type OpsFile struct {
	ListenAddr string `yaml:"listenAddr,omitempty"`
	RateLimit  *int   `yaml:"rateLimit,omitempty"`
}

type MonitorFile struct {
	Interval          string   `yaml:"interval,omitempty"`
	DialTimeout      string   `yaml:"dialTimeout,omitempty"`
	CPUWarnPercent    *float64 `yaml:"cpuWarnPercent,omitempty"`
	MemoryWarnPercent *float64 `yaml:"memoryWarnPercent,omitempty"`
}

type TelemetryFile struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:    "/var/lib/restream",
		VideoDir:   "videos",
		ProxyDir:   "/tmp",
		LogLevel:   "info",
		LogService: "restreamd",
		Registry: RegistryConfig{
			Backend:   "sqlite",
			KeyPrefix: "restream:",
		},
		FFmpeg: FFmpegConfig{
			Bin:            "ffmpeg",
			ProxychainsBin: "proxychains4",
			TermGrace:      5 * time.Second,
			KillTimeout:    5 * time.Second,
			StderrLines:    256,
		},
		Tasks: TasksConfig{
			DefaultListLimit: 10,
			MaxRestarts:      3,
			RestartDelay:     2 * time.Second,
			LaunchBurst:      1,
		},
		Ops: OpsConfig{
			ListenAddr: ":9464",
			RateLimit:  120,
		},
		Monitor: MonitorConfig{
			Interval:          30 * time.Second,
			DialTimeout:      3 * time.Second,
			CPUWarnPercent:    80,
			MemoryWarnPercent: 85,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			SamplingRate: 1.0,
		},
	}
}
