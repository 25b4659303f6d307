// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package launcher starts and supervises the ffmpeg child of one task.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/restream/internal/fsutil"
	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/procgroup"
	"github.com/ManuGH/restream/internal/task"
)

// Config controls how processes are built and admitted.
type Config struct {
	FFmpegBin      string
	ProxychainsBin string
	VideoDir       string
	// StderrLines bounds the captured stderr tail.
	StderrLines int
	// LaunchRate caps launches per second; zero disables admission control.
	LaunchRate  float64
	LaunchBurst int
}

// LaunchError is returned when a process could not be started.
type LaunchError struct {
	Op   string // admission, open_input, resolve_binary, start
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("launch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("launch %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher starts ffmpeg processes for task records.
type Launcher struct {
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New returns a Launcher for cfg.
func New(cfg Config) *Launcher {
	if cfg.StderrLines <= 0 {
		cfg.StderrLines = 256
	}
	l := &Launcher{cfg: cfg, logger: xglog.WithComponent("launcher")}
	if cfg.LaunchRate > 0 {
		burst := cfg.LaunchBurst
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRate), burst)
	}
	return l
}

// VideoPath resolves a record's input inside the video directory.
func (l *Launcher) VideoPath(filename string) string {
	return filepath.Join(l.cfg.VideoDir, filepath.Base(filename))
}

// Command returns the argv that Launch would run for rec.
func (l *Launcher) Command(rec *task.Record, proxyConf string) Command {
	return l.command(rec, proxyConf, l.VideoPath(rec.VideoFilename))
}

func (l *Launcher) command(rec *task.Record, proxyConf, videoPath string) Command {
	return BuildArgs(Input{
		FFmpegBin:      l.cfg.FFmpegBin,
		ProxychainsBin: l.cfg.ProxychainsBin,
		ProxyConf:      proxyConf,
		VideoPath:      videoPath,
		RTMPURL:        rec.RTMPURL,
		Transcode:      rec.TranscodeEnabled,
	})
}

// Launch validates the input and binaries, then starts the process in its
// own process group. ctx bounds admission only; the child outlives it. A
// cancelled ctx never starts a process.
func (l *Launcher) Launch(ctx context.Context, rec *task.Record, proxyConf string) (*Process, error) {
	logger := xglog.WithContext(ctx, l.logger).With().Str(xglog.FieldTaskID, rec.ID).Logger()

	if err := ctx.Err(); err != nil {
		metrics.IncProcLaunch("admission")
		return nil, &LaunchError{Op: "admission", Err: err}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			metrics.IncProcLaunch("admission")
			return nil, &LaunchError{Op: "admission", Err: err}
		}
	}

	videoPath := l.VideoPath(rec.VideoFilename)
	resolved, err := fsutil.ConfineRelPath(l.cfg.VideoDir, filepath.Base(rec.VideoFilename))
	if err == nil {
		err = checkReadable(resolved)
	}
	if err != nil {
		metrics.IncProcLaunch("missing_input")
		return nil, &LaunchError{Op: "open_input", Path: videoPath, Err: err}
	}

	command := l.command(rec, proxyConf, resolved)
	bin, err := exec.LookPath(command.Path)
	if err != nil {
		metrics.IncProcLaunch("missing_binary")
		return nil, &LaunchError{Op: "resolve_binary", Path: command.Path, Err: err}
	}
	if proxyConf != "" {
		ffmpeg := command.Args[2]
		if _, err := exec.LookPath(ffmpeg); err != nil {
			metrics.IncProcLaunch("missing_binary")
			return nil, &LaunchError{Op: "resolve_binary", Path: ffmpeg, Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		metrics.IncProcLaunch("admission")
		return nil, &LaunchError{Op: "admission", Err: err}
	}
	cmd := exec.Command(bin, command.Args...) // #nosec G204 -- argv is built from validated task fields
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		metrics.IncProcLaunch("start_failed")
		return nil, &LaunchError{Op: "start", Path: bin, Err: err}
	}
	if err := cmd.Start(); err != nil {
		metrics.IncProcLaunch("start_failed")
		return nil, &LaunchError{Op: "start", Path: bin, Err: err}
	}
	metrics.IncProcLaunch("ok")

	logger.Info().
		Str(xglog.FieldEvent, "process.started").
		Int(xglog.FieldPID, cmd.Process.Pid).
		Bool("proxied", proxyConf != "").
		Bool("transcode", rec.TranscodeEnabled).
		Msg("ffmpeg started")

	return startProcess(cmd, stderr, NewLineRing(l.cfg.StderrLines), logger), nil
}

func checkReadable(path string) error {
	if err := fsutil.IsRegularFile(path); err != nil {
		return err
	}
	f, err := os.Open(path) // #nosec G304 -- path is confined to the video directory
	if err != nil {
		return err
	}
	return f.Close()
}
