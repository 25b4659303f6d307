// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/restream/internal/config"
	xglog "github.com/ManuGH/restream/internal/log"
)

// PerformStartupChecks prepares directories and verifies binaries before
// the supervisor accepts work. A missing proxychains binary only warns:
// tasks without a proxy still run.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := xglog.WithComponent("startup-check")

	for _, dir := range []struct{ name, path string }{
		{"data", cfg.DataDir},
		{"video", cfg.VideoDir},
		{"proxy", cfg.ProxyDir},
	} {
		if err := ensureWritableDir(dir.path); err != nil {
			return fmt.Errorf("%s directory check failed: %w", dir.name, err)
		}
	}

	if _, err := exec.LookPath(cfg.FFmpeg.Bin); err != nil {
		return fmt.Errorf("ffmpeg binary check failed: %w", err)
	}
	checkOptionalBinary(logger, cfg.FFmpeg.ProxychainsBin)

	logger.Info().Str(xglog.FieldEvent, "startup.checks_passed").Msg("startup checks passed")
	return nil
}

func ensureWritableDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(probe)
	return nil
}

func checkOptionalBinary(logger zerolog.Logger, bin string) {
	if _, err := exec.LookPath(bin); err != nil {
		logger.Warn().
			Err(err).
			Str("binary", bin).
			Msg("proxychains not found; proxied tasks will fail to launch")
	}
}
