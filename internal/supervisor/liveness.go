// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	xglog "github.com/ManuGH/restream/internal/log"
	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/registry"
	"github.com/ManuGH/restream/internal/task"
)

const orphanedMessage = "ffmpeg process lost"

// RunningTask is a live supervised process.
type RunningTask struct {
	ID        string
	PID       int
	RTMPURL   string
	StartedAt time.Time
}

// RunningTasks snapshots the units whose current process has not exited.
func (s *Supervisor) RunningTasks() []RunningTask {
	s.mu.Lock()
	units := make([]*unit, 0, len(s.units))
	for _, u := range s.units {
		units = append(units, u)
	}
	s.mu.Unlock()

	out := make([]RunningTask, 0, len(units))
	for _, u := range units {
		u.mu.Lock()
		proc, url := u.proc, u.rtmpURL
		u.mu.Unlock()
		if proc == nil {
			continue
		}
		select {
		case <-proc.Done():
			continue
		default:
		}
		out = append(out, RunningTask{ID: u.id, PID: proc.PID(), RTMPURL: url, StartedAt: proc.StartedAt()})
	}
	return out
}

// Abort ends a running task as an error with message, terminating its
// process. It reports false when the task has no live unit or is already
// stopping.
func (s *Supervisor) Abort(id, message string) bool {
	u := s.unit(id)
	if u == nil {
		return false
	}
	return s.requestStop(u, task.StatusError, message)
}

// Reconcile fails running records that no unit of this supervisor owns.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	return s.closeOrphans(ctx, orphanedMessage)
}

func (s *Supervisor) closeOrphans(ctx context.Context, message string) (int, error) {
	logger := xglog.WithContext(ctx, s.logger)
	running, err := s.reg.List(ctx, registry.ListOptions{Statuses: []task.Status{task.StatusRunning}})
	if err != nil {
		return 0, fmt.Errorf("list running tasks: %w", err)
	}
	closed := 0
	for _, rec := range running {
		if s.unit(rec.ID) != nil {
			continue
		}
		out, err := s.reg.Transition(ctx, rec.ID, []task.Status{task.StatusRunning}, task.StatusError, func(r *task.Record) {
			r.Message = message
			r.ErrorMessage = message
		})
		if errors.Is(err, task.ErrConflict) {
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Str(xglog.FieldTaskID, rec.ID).Msg("could not close orphaned task")
			continue
		}
		metrics.ObserveTaskFinalized(string(out.Status), out.RuntimeMinutes)
		logger.Warn().
			Str(xglog.FieldTaskID, rec.ID).
			Str(xglog.FieldEvent, "task.finalized").
			Str(xglog.FieldOldState, string(task.StatusRunning)).
			Str(xglog.FieldNewState, string(out.Status)).
			Str(xglog.FieldReason, message).
			Msg("running task has no process")
		closed++
	}
	return closed, nil
}
