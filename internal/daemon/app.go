// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/restream/internal/config"
	"github.com/ManuGH/restream/internal/health"
	xglog "github.com/ManuGH/restream/internal/log"
)

// DefaultShutdownTimeout bounds stopping running tasks on exit.
const DefaultShutdownTimeout = 30 * time.Second

// App owns the runtime lifecycle: recovery, the ops listener, config
// reloads and graceful shutdown.
type App struct {
	logger          zerolog.Logger
	rt              *Runtime
	holder          *config.Holder
	reloadSignal    os.Signal
	shutdownTimeout time.Duration

	// ready receives the bound ops address once listening.
	ready chan string
}

// NewApp creates an App. holder may be nil when reloads are not wanted.
func NewApp(rt *Runtime, holder *config.Holder) (*App, error) {
	if rt == nil || rt.Supervisor == nil {
		return nil, ErrMissingRuntime
	}
	return &App{
		logger:          xglog.WithComponent("daemon"),
		rt:              rt,
		holder:          holder,
		reloadSignal:    syscall.SIGHUP,
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan string, 1),
	}, nil
}

// Ready delivers the ops listener address after Run has bound it.
func (a *App) Ready() <-chan string { return a.ready }

// Run recovers persisted tasks, serves ops endpoints and blocks until ctx
// is cancelled or the listener fails. Running tasks are then stopped and
// the runtime is closed.
func (a *App) Run(ctx context.Context) error {
	if err := a.rt.Supervisor.Recover(ctx); err != nil {
		_ = a.rt.Close(context.Background())
		return fmt.Errorf("recover tasks: %w", err)
	}

	ln, err := net.Listen("tcp", a.rt.Config.Ops.ListenAddr)
	if err != nil {
		a.shutdown()
		return fmt.Errorf("%w: %v", ErrServerStartFailed, err)
	}
	srv := &http.Server{
		Handler: health.NewRouter(a.rt.Health, health.RouterConfig{
			ServiceName: a.rt.Config.LogService,
			RateLimit:   a.rt.Config.Ops.RateLimit,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().
			Str(xglog.FieldEvent, "ops.listening").
			Str("addr", ln.Addr().String()).
			Msg("ops server listening")
		a.ready <- ln.Addr().String()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if a.rt.Monitor != nil {
		g.Go(func() error { return a.rt.Monitor.Run(gctx) })
	}

	if a.holder != nil {
		a.holder.OnReload(a.applyReload)
		g.Go(func() error {
			if err := a.holder.Watch(gctx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("config watcher unavailable")
			}
			return nil
		})
		if a.reloadSignal != nil {
			g.Go(func() error {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, a.reloadSignal)
				defer signal.Stop(hup)
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-hup:
						a.logger.Info().
							Str(xglog.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal")
						_ = a.holder.Reload()
					}
				}
			})
		}
	}

	err = g.Wait()
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.rt.Supervisor.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Str(xglog.FieldEvent, "supervisor.shutdown_incomplete").Msg("tasks still running at exit")
	}
	if err := a.rt.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldEvent, "runtime.close_failed").Msg("runtime close failed")
	}
	a.logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("daemon stopped")
}

// applyReload handles the settings that are safe to change at runtime.
func (a *App) applyReload(old, next config.AppConfig) {
	if old.LogLevel != next.LogLevel {
		if err := xglog.SetLevel(next.LogLevel); err != nil {
			a.logger.Warn().Err(err).Msg("log level not applied")
			return
		}
		a.logger.Info().
			Str(xglog.FieldEvent, "config.log_level_changed").
			Str("from", old.LogLevel).
			Str("to", next.LogLevel).
			Msg("log level updated")
	}
}
