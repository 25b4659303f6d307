// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler arms per-task timers for deferred starts and auto-stops.
//
// For every arming exactly one of two things happens: Cancel returns true and
// the callback never runs, or the callback runs and Cancel returns false.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/restream/internal/log"
)

// Kind distinguishes the timers a task may hold.
type Kind string

const (
	KindStart    Kind = "start"
	KindAutoStop Kind = "auto_stop"
)

// Key identifies one timer.
type Key struct {
	TaskID string
	Kind   Kind
}

type entry struct {
	timer Timer
}

// Scheduler owns cancellable one-shot timers keyed by task and kind.
type Scheduler struct {
	clock  Clock
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[Key]*entry
	stopped bool
}

// New returns a scheduler on clock; nil means the real clock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		clock:   clock,
		logger:  xglog.WithComponent("scheduler"),
		entries: make(map[Key]*entry),
	}
}

// Now returns the scheduler clock's time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Arm schedules fn after d, replacing any timer already armed for key.
// A non-positive d fires as soon as possible. It returns false once Stop has
// been called.
func (s *Scheduler) Arm(key Key, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if prev, ok := s.entries[key]; ok {
		prev.timer.Stop()
		delete(s.entries, key)
	}
	if d < 0 {
		d = 0
	}

	e := &entry{}
	// The callback takes s.mu, so it cannot observe the map before e is stored.
	e.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.entries[key]
		if !ok || cur != e {
			s.mu.Unlock()
			return
		}
		delete(s.entries, key)
		s.mu.Unlock()

		s.logger.Debug().
			Str(xglog.FieldTaskID, key.TaskID).
			Str(xglog.FieldEvent, "timer.fired").
			Str("kind", string(key.Kind)).
			Msg("timer fired")
		fn()
	})
	s.entries[key] = e

	s.logger.Debug().
		Str(xglog.FieldTaskID, key.TaskID).
		Str(xglog.FieldEvent, "timer.armed").
		Str("kind", string(key.Kind)).
		Dur("in", d).
		Msg("timer armed")
	return true
}

// Cancel disarms key. True means the callback will never run.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	e.timer.Stop()
	return true
}

// Armed reports whether key currently holds an unfired timer.
func (s *Scheduler) Armed(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every timer and rejects further arming.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
}
