// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/persistence/sqlite"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the SQLite file or Badger directory.
	Path  string
	Redis RedisConfig
}

// Open creates the configured registry wrapped with metrics.
func Open(cfg Config) (Registry, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSqlite
	}

	var (
		inner Registry
		err   error
	)
	switch backend {
	case BackendMemory:
		inner = NewMemory()
	case BackendSqlite:
		inner, err = NewSqlite(cfg.Path)
	case BackendRedis:
		inner, err = NewRedis(cfg.Redis, log.WithComponent("registry"))
	case BackendBadger:
		inner, err = NewBadger(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown registry backend: %s", backend)
	}
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("registry")
	logger.Info().
		Str(log.FieldBackend, backend).
		Str(log.FieldPath, cfg.Path).
		Msg("task registry opened")
	return NewInstrumented(inner, backend), nil
}

// Check reports backend health for readiness probes. Backends without a
// remote dependency are always healthy once open.
func Check(ctx context.Context, r Registry) error {
	if u, ok := r.(interface{ Unwrap() Registry }); ok {
		r = u.Unwrap()
	}
	switch b := r.(type) {
	case *SqliteRegistry:
		return pingSqlite(ctx, b.DB)
	case *RedisRegistry:
		return b.Ping(ctx)
	default:
		return nil
	}
}

func pingSqlite(ctx context.Context, db *sql.DB) error {
	issues, err := sqlite.VerifyIntegrity(ctx, db, sqlite.ModeQuick)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("sqlite integrity: %v", issues)
	}
	return nil
}
