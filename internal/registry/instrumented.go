// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/restream/internal/metrics"
	"github.com/ManuGH/restream/internal/task"
)

// instrumented wraps any Registry to capture metrics.
type instrumented struct {
	inner   Registry
	backend string
}

// NewInstrumented records per-operation counts and latency for inner.
func NewInstrumented(inner Registry, backend string) Registry {
	return &instrumented{inner: inner, backend: backend}
}

// Unwrap returns the underlying backend.
func (i *instrumented) Unwrap() Registry { return i.inner }

func (i *instrumented) observe(op string, start time.Time, err error) {
	res := "ok"
	switch {
	case err == nil:
	case errors.Is(err, task.ErrNotFound):
		res = "not_found"
	case errors.Is(err, task.ErrConflict):
		res = "conflict"
	default:
		res = "error"
	}
	metrics.ObserveRegistryOp(i.backend, op, res, time.Since(start))
}

func (i *instrumented) Create(ctx context.Context, rec *task.Record) (err error) {
	start := time.Now()
	defer func() { i.observe("create", start, err) }()
	return i.inner.Create(ctx, rec)
}

func (i *instrumented) Get(ctx context.Context, id string) (rec *task.Record, err error) {
	start := time.Now()
	defer func() { i.observe("get", start, err) }()
	return i.inner.Get(ctx, id)
}

func (i *instrumented) List(ctx context.Context, opts ListOptions) (recs []*task.Record, err error) {
	start := time.Now()
	defer func() { i.observe("list", start, err) }()
	return i.inner.List(ctx, opts)
}

func (i *instrumented) Transition(ctx context.Context, id string, from []task.Status, to task.Status, mutate MutateFunc) (rec *task.Record, err error) {
	start := time.Now()
	defer func() { i.observe("transition", start, err) }()
	return i.inner.Transition(ctx, id, from, to, mutate)
}

func (i *instrumented) Close() error { return i.inner.Close() }
