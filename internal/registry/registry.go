// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry is the authoritative store of task records.
//
// Transition is the only mutation path after Create. It is atomic per record
// and rejects any change whose observed status is not in the expected set, so
// concurrent stop, auto-stop and exit handling cannot both finalize a task.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ManuGH/restream/internal/task"
)

// ListOptions selects, orders and bounds a listing.
type ListOptions struct {
	// Limit caps the result; zero or negative means unbounded.
	Limit int
	// OrderBy is one of task.OrderCreateTime (default), task.OrderStartTime,
	// task.OrderScheduledStartTime.
	OrderBy string
	// Ascending flips the default newest-first order.
	Ascending bool
	// Statuses, when non-empty, keeps only records in these states.
	Statuses []task.Status
}

// MutateFunc edits a record copy inside a transition.
type MutateFunc func(*task.Record)

// Registry stores task records.
type Registry interface {
	// Create inserts a new record. It fails with task.ErrConflict if the id exists.
	Create(ctx context.Context, rec *task.Record) error
	// Get returns a copy of the record or task.ErrNotFound.
	Get(ctx context.Context, id string) (*task.Record, error)
	// List returns copies ordered and bounded by opts.
	List(ctx context.Context, opts ListOptions) ([]*task.Record, error)
	// Transition moves id to `to` if its status is in from, applying mutate
	// to the same atomic update. It returns the stored result.
	Transition(ctx context.Context, id string, from []task.Status, to task.Status, mutate MutateFunc) (*task.Record, error)
	Close() error
}

// apply performs the shared transition checks and field bookkeeping on rec.
func apply(rec *task.Record, from []task.Status, to task.Status, mutate MutateFunc, now time.Time) error {
	if !slices.Contains(from, rec.Status) {
		return fmt.Errorf("%w: task %s is %s, expected one of %v", task.ErrConflict, rec.ID, rec.Status, from)
	}
	if !task.CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", task.ErrConflict, rec.Status, to)
	}

	id, created := rec.ID, rec.CreateTime
	if mutate != nil {
		mutate(rec)
	}
	rec.ID, rec.CreateTime = id, created
	rec.Status = to
	rec.UpdateTime = now

	switch {
	case to == task.StatusRunning:
		if rec.StartTime == nil {
			rec.StartTime = &now
		}
		rec.EndTime = nil
	case to.IsTerminal():
		rec.Finalize(now)
	}
	return nil
}

func validateNew(rec *task.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("registry: record id is required")
	}
	if rec.Status.IsTerminal() || rec.Status == task.StatusRunning {
		return fmt.Errorf("registry: new records must be scheduled, got %s", rec.Status)
	}
	if rec.StartTime != nil || rec.EndTime != nil {
		return fmt.Errorf("registry: new records must not carry start or end time")
	}
	return nil
}

// selectRecords filters, sorts and limits recs in place.
func selectRecords(recs []*task.Record, opts ListOptions) []*task.Record {
	if len(opts.Statuses) > 0 {
		kept := recs[:0]
		for _, r := range recs {
			if slices.Contains(opts.Statuses, r.Status) {
				kept = append(kept, r)
			}
		}
		recs = kept
	}

	order := opts.OrderBy
	if order == "" {
		order = task.OrderCreateTime
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].SortTime(order), recs[j].SortTime(order)
		if !a.Equal(b) {
			if opts.Ascending {
				return a.Before(b)
			}
			return a.After(b)
		}
		if !recs[i].CreateTime.Equal(recs[j].CreateTime) {
			if opts.Ascending {
				return recs[i].CreateTime.Before(recs[j].CreateTime)
			}
			return recs[i].CreateTime.After(recs[j].CreateTime)
		}
		return recs[i].ID < recs[j].ID
	})

	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs
}

func validOrder(order string) error {
	switch order {
	case "", task.OrderCreateTime, task.OrderStartTime, task.OrderScheduledStartTime:
		return nil
	default:
		return fmt.Errorf("registry: unsupported order %q", order)
	}
}
