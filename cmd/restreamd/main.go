// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/restream/internal/config"
	"github.com/ManuGH/restream/internal/daemon"
	"github.com/ManuGH/restream/internal/health"
	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	checkOnly := flag.Bool("check", false, "validate configuration and environment, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "restreamd",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(config.EnvPrefix + "CONFIG"))
	}

	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", path).
		Strs("env_keys", loader.ConsumedEnvKeys).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "startup.check_failed").Msg("startup checks failed")
	}
	if *checkOnly {
		fmt.Println("configuration OK")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := daemon.Bootstrap(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "bootstrap.failed").Msg("failed to build runtime")
	}

	var holder *config.Holder
	if path != "" {
		holder = config.NewHolder(cfg, loader)
	}
	app, err := daemon.NewApp(rt, holder)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create app")
	}

	logger.Info().
		Str(xglog.FieldEvent, "daemon.starting").
		Str("version", version.Version).
		Str("ops_addr", cfg.Ops.ListenAddr).
		Msg("starting restreamd")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		os.Exit(1)
	}
}
