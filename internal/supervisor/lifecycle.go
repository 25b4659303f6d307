// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/registry"
	"github.com/ManuGH/restream/internal/task"
)

const (
	interruptedMessage = "interrupted by service restart"
	shutdownMessage    = "stopped by service shutdown"
)

// Recover reconciles records left by a previous process. Running records
// have lost their process and become errors; scheduled records are re-armed
// and launch at once when overdue. Stale proxy configs are removed first.
func (s *Supervisor) Recover(ctx context.Context) error {
	logger := xglog.WithContext(ctx, s.logger)

	swept, err := s.proxy.Sweep()
	if err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "recovery.sweep_failed").Msg("stale proxy configs not removed")
	}

	interrupted, err := s.closeOrphans(ctx, interruptedMessage)
	if err != nil {
		return err
	}

	scheduled, err := s.reg.List(ctx, registry.ListOptions{
		Statuses:  []task.Status{task.StatusScheduled},
		Ascending: true,
	})
	if err != nil {
		return fmt.Errorf("list scheduled tasks: %w", err)
	}
	now := s.sched.Now()
	rearmed := 0
	for _, rec := range scheduled {
		if s.unit(rec.ID) != nil {
			continue
		}
		var delay time.Duration
		if rec.ScheduledStartTime != nil {
			delay = rec.ScheduledStartTime.Sub(now)
		}
		s.armStart(rec.ID, delay)
		rearmed++
	}

	logger.Info().
		Str(xglog.FieldEvent, "recovery.completed").
		Int("proxy_configs_swept", swept).
		Int("interrupted", interrupted).
		Int("rearmed", rearmed).
		Msg("task state recovered")
	return nil
}

// Shutdown cancels pending starts without touching their records, stops
// every running task and waits for the units to finish or ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	units := make([]*unit, 0, len(s.units))
	for _, u := range s.units {
		units = append(units, u)
	}
	s.mu.Unlock()

	pending := s.sched.Pending()
	s.sched.Stop()
	metrics.TasksScheduled.Set(0)

	logger := xglog.WithContext(ctx, s.logger)
	logger.Info().
		Str(xglog.FieldEvent, "supervisor.shutdown").
		Int("running", len(units)).
		Int("timers_cancelled", pending).
		Msg("stopping supervised tasks")

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			s.requestStop(u, task.StatusStopped, shutdownMessage)
		}(u)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		for _, u := range units {
			<-u.done
		}
		close(finished)
	}()

	select {
	case <-finished:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}
