// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/restream/internal/task"
)

// MemoryRegistry keeps records in process memory. History is lost on restart.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]*task.Record
	now     func() time.Time
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]*task.Record),
		now:     time.Now,
	}
}

func (m *MemoryRegistry) Create(_ context.Context, rec *task.Record) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("%w: task %s already exists", task.ErrConflict, rec.ID)
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (*task.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryRegistry) List(_ context.Context, opts ListOptions) ([]*task.Record, error) {
	if err := validOrder(opts.OrderBy); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*task.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()
	return selectRecords(out, opts), nil
}

func (m *MemoryRegistry) Transition(_ context.Context, id string, from []task.Status, to task.Status, mutate MutateFunc) (*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	next := cur.Clone()
	if err := apply(next, from, to, mutate, m.now()); err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

func (m *MemoryRegistry) Close() error { return nil }
