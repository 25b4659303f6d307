// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/restream/internal/task"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type backendCase struct {
	name string
	open func(t *testing.T) Registry
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) Registry { return NewMemory() }},
		{"sqlite", func(t *testing.T) Registry {
			r, err := NewSqlite(filepath.Join(t.TempDir(), "tasks.db"))
			require.NoError(t, err)
			return r
		}},
		{"redis", func(t *testing.T) Registry {
			mr := miniredis.RunT(t)
			r, err := NewRedis(RedisConfig{Addr: mr.Addr(), Prefix: "test:"}, zerolog.Nop())
			require.NoError(t, err)
			return r
		}},
		{"badger", func(t *testing.T) Registry {
			r, err := NewBadger(filepath.Join(t.TempDir(), "badger"))
			require.NoError(t, err)
			return r
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, r Registry)) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			r := bc.open(t)
			t.Cleanup(func() { _ = r.Close() })
			fn(t, r)
		})
	}
}

func newRec(id string, created time.Time) *task.Record {
	return task.NewRecord(id, task.Spec{
		VideoFilename:   "clip.mp4",
		RTMPURL:         "rtmp://live.example.com/app/key",
		TaskName:        "evening show",
		AutoStopMinutes: 30,
	}, created)
}

func TestRegistry_CreateGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		rec := newRec("t1", base)
		require.NoError(t, r.Create(ctx, rec))

		got, err := r.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusScheduled, got.Status)
		assert.Equal(t, "clip.mp4", got.VideoFilename)
		assert.Equal(t, 30, got.AutoStopMinutes)
		assert.True(t, got.CreateTime.Equal(base))
		assert.Nil(t, got.StartTime)

		err = r.Create(ctx, newRec("t1", base))
		assert.ErrorIs(t, err, task.ErrConflict)

		_, err = r.Get(ctx, "missing")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestRegistry_CreateRejectsNonInitialRecords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		rec := newRec("t1", base)
		rec.Status = task.StatusRunning
		require.Error(t, r.Create(context.Background(), rec))

		require.Error(t, r.Create(context.Background(), &task.Record{}))
	})
}

func TestRegistry_TransitionLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, newRec("t1", base)))

		running, err := r.Transition(ctx, "t1", []task.Status{task.StatusScheduled}, task.StatusRunning, func(rec *task.Record) {
			rec.ID = "hijack"
			rec.Message = "streaming"
		})
		require.NoError(t, err)
		assert.Equal(t, "t1", running.ID)
		assert.Equal(t, task.StatusRunning, running.Status)
		require.NotNil(t, running.StartTime)
		assert.Nil(t, running.EndTime)
		assert.True(t, running.CreateTime.Equal(base))

		stopped, err := r.Transition(ctx, "t1", []task.Status{task.StatusRunning}, task.StatusStopped, func(rec *task.Record) {
			rec.Message = "stopped by operator"
		})
		require.NoError(t, err)
		require.NotNil(t, stopped.EndTime)
		require.NotNil(t, stopped.RuntimeMinutes)
		assert.GreaterOrEqual(t, *stopped.RuntimeMinutes, 0.0)
		assert.False(t, stopped.EndTime.Before(*stopped.StartTime))

		stored, err := r.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusStopped, stored.Status)
		assert.Equal(t, "stopped by operator", stored.Message)

		_, err = r.Transition(ctx, "t1", []task.Status{task.StatusRunning}, task.StatusError, nil)
		assert.ErrorIs(t, err, task.ErrConflict)

		_, err = r.Transition(ctx, "missing", []task.Status{task.StatusRunning}, task.StatusError, nil)
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestRegistry_TransitionRejectsIllegalEdge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, newRec("t1", base)))

		_, err := r.Transition(ctx, "t1", []task.Status{task.StatusScheduled}, task.StatusCompleted, nil)
		assert.ErrorIs(t, err, task.ErrConflict)

		got, err := r.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusScheduled, got.Status)
	})
}

func TestRegistry_ConcurrentFinalizeHasOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.Create(ctx, newRec("t1", base)))
		_, err := r.Transition(ctx, "t1", []task.Status{task.StatusScheduled}, task.StatusRunning, nil)
		require.NoError(t, err)

		targets := []task.Status{task.StatusStopped, task.StatusAutoStopped, task.StatusError, task.StatusCompleted}
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []task.Status
		)
		for i := 0; i < 8; i++ {
			to := targets[i%len(targets)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Transition(ctx, "t1", []task.Status{task.StatusRunning}, to, nil)
				if err == nil {
					mu.Lock()
					winners = append(winners, to)
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, task.ErrConflict), "unexpected error: %v", err)
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		got, err := r.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, winners[0], got.Status)
	})
}

func TestRegistry_ListOrderingAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, r.Create(ctx, newRec(fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Minute))))
		}
		// Only t1 and t3 ever start; the others sort as missing start times.
		for _, id := range []string{"t3", "t1"} {
			_, err := r.Transition(ctx, id, []task.Status{task.StatusScheduled}, task.StatusRunning, nil)
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}

		all, err := r.List(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"t4", "t3", "t2", "t1", "t0"}, ids(all))

		asc, err := r.List(ctx, ListOptions{Ascending: true, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"t0", "t1"}, ids(asc))

		byStart, err := r.List(ctx, ListOptions{OrderBy: task.OrderStartTime, Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t3", "t4"}, ids(byStart))

		running, err := r.List(ctx, ListOptions{Statuses: []task.Status{task.StatusRunning}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"t1", "t3"}, ids(running))

		_, err = r.List(ctx, ListOptions{OrderBy: "name"})
		assert.Error(t, err)
	})
}

func TestRedisRegistry_PagedListMatchesFullScan(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rr, err := NewRedis(RedisConfig{Addr: mr.Addr(), Prefix: "test:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rr.Close() })
	ref := NewMemory()

	// Records share create times in threes to put ties on page boundaries.
	for i := 0; i < 80; i++ {
		created := base.Add(time.Duration(i/3) * time.Minute)
		for _, r := range []Registry{rr, ref} {
			require.NoError(t, r.Create(ctx, newRec(fmt.Sprintf("t%02d", i), created)))
		}
	}
	for i := 0; i < 80; i += 4 {
		for _, r := range []Registry{rr, ref} {
			_, err := r.Transition(ctx, fmt.Sprintf("t%02d", i), []task.Status{task.StatusScheduled}, task.StatusRunning, nil)
			require.NoError(t, err)
		}
	}

	for _, order := range []string{task.OrderCreateTime, task.OrderStartTime, task.OrderScheduledStartTime} {
		assert.True(t, mr.Exists("test:tasks:"+order), order)
	}

	cases := []ListOptions{
		{Limit: 10},
		{Limit: 32},
		{Limit: 33, Ascending: true},
		{Limit: 5, OrderBy: task.OrderStartTime},
		{Limit: 40, OrderBy: task.OrderStartTime, Ascending: true},
		{Limit: 7, Statuses: []task.Status{task.StatusRunning}},
		{Limit: 3, OrderBy: task.OrderScheduledStartTime},
	}
	for _, opts := range cases {
		t.Run(fmt.Sprintf("%s/asc=%v/limit=%d/statuses=%d", opts.OrderBy, opts.Ascending, opts.Limit, len(opts.Statuses)), func(t *testing.T) {
			want, err := ref.List(ctx, opts)
			require.NoError(t, err)
			got, err := rr.List(ctx, opts)
			require.NoError(t, err)
			assert.Equal(t, ids(want), ids(got))
		})
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		rec := newRec("t1", base)
		require.NoError(t, r.Create(ctx, rec))
		rec.Message = "mutated after create"

		got, err := r.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "starting", got.Message)
		got.Message = "mutated after get"

		again, err := r.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "starting", again.Message)
	})
}

func TestSqliteRegistry_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	r, err := NewSqlite(path)
	require.NoError(t, err)
	require.NoError(t, r.Create(context.Background(), newRec("t1", base)))
	require.NoError(t, r.Close())

	r, err = NewSqlite(path)
	require.NoError(t, err)
	defer r.Close()

	var version int
	require.NoError(t, r.DB.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, sqliteSchemaVersion, version)

	got, err := r.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "evening show", got.TaskName)
}

func TestOpen_Factory(t *testing.T) {
	r, err := Open(Config{Backend: BackendMemory})
	require.NoError(t, err)
	require.NoError(t, Check(context.Background(), r))
	require.NoError(t, r.Close())

	r, err = Open(Config{Backend: BackendSqlite, Path: filepath.Join(t.TempDir(), "f.db")})
	require.NoError(t, err)
	require.NoError(t, Check(context.Background(), r))
	require.NoError(t, r.Close())

	mr := miniredis.RunT(t)
	r, err = Open(Config{Backend: BackendRedis, Redis: RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	require.NoError(t, Check(context.Background(), r))
	require.NoError(t, r.Close())

	_, err = Open(Config{Backend: "etcd"})
	assert.Error(t, err)
}

func ids(recs []*task.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
