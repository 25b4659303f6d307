// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package task

import "fmt"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
	StatusAutoStopped Status = "auto_stopped"
	StatusError       Status = "error"
	StatusCompleted   Status = "completed"
)

// transitions is the single authority on legal status edges.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusRunning, StatusStopped, StatusError},
	StatusRunning:   {StatusCompleted, StatusAutoStopped, StatusStopped, StatusError},
}

// AllStatuses lists every status in declaration order.
func AllStatuses() []Status {
	return []Status{StatusScheduled, StatusRunning, StatusStopped, StatusAutoStopped, StatusError, StatusCompleted}
}

// ParseStatus validates a persisted status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusAutoStopped, StatusError, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
