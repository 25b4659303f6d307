// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestArmFiresOnce(t *testing.T) {
	clk := NewFakeClock(epoch)
	s := New(clk)
	key := Key{TaskID: "t1", Kind: KindStart}

	var fired atomic.Int32
	require.True(t, s.Arm(key, time.Minute, func() { fired.Add(1) }))
	assert.True(t, s.Armed(key))

	clk.Advance(59 * time.Second)
	assert.Zero(t, fired.Load())

	clk.Advance(time.Second)
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, s.Armed(key))
	assert.False(t, s.Cancel(key), "cancel after fire must report false")

	clk.Advance(time.Hour)
	assert.Equal(t, int32(1), fired.Load())
}

func TestCancelBeforeFire(t *testing.T) {
	clk := NewFakeClock(epoch)
	s := New(clk)
	key := Key{TaskID: "t1", Kind: KindAutoStop}

	var fired atomic.Bool
	s.Arm(key, time.Minute, func() { fired.Store(true) })
	assert.True(t, s.Cancel(key))
	assert.False(t, s.Cancel(key))

	clk.Advance(2 * time.Minute)
	assert.False(t, fired.Load())
	assert.Zero(t, clk.Pending())
}

func TestArmReplaces(t *testing.T) {
	clk := NewFakeClock(epoch)
	s := New(clk)
	key := Key{TaskID: "t1", Kind: KindStart}

	var calls []string
	s.Arm(key, time.Minute, func() { calls = append(calls, "first") })
	s.Arm(key, 2*time.Minute, func() { calls = append(calls, "second") })
	assert.Equal(t, 1, s.Pending())

	clk.Advance(3 * time.Minute)
	assert.Equal(t, []string{"second"}, calls)
}

func TestKeysAreIndependent(t *testing.T) {
	clk := NewFakeClock(epoch)
	s := New(clk)

	var start, stop atomic.Bool
	s.Arm(Key{TaskID: "t1", Kind: KindStart}, time.Minute, func() { start.Store(true) })
	s.Arm(Key{TaskID: "t1", Kind: KindAutoStop}, time.Minute, func() { stop.Store(true) })
	require.True(t, s.Cancel(Key{TaskID: "t1", Kind: KindAutoStop}))

	clk.Advance(time.Minute)
	assert.True(t, start.Load())
	assert.False(t, stop.Load())
}

func TestStopRejectsArming(t *testing.T) {
	clk := NewFakeClock(epoch)
	s := New(clk)

	var fired atomic.Bool
	s.Arm(Key{TaskID: "t1", Kind: KindStart}, time.Minute, func() { fired.Store(true) })
	s.Stop()
	assert.Zero(t, s.Pending())
	assert.False(t, s.Arm(Key{TaskID: "t2", Kind: KindStart}, time.Minute, func() { fired.Store(true) }))

	clk.Advance(time.Hour)
	assert.False(t, fired.Load())
}

// Exactly one of {Cancel succeeded, callback ran} must hold under a race.
func TestCancelFireRace_RealClock(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := New(nil)

	for i := 0; i < 200; i++ {
		key := Key{TaskID: "race", Kind: KindStart}
		var ran atomic.Bool
		var wg sync.WaitGroup
		wg.Add(1)
		s.Arm(key, 0, func() {
			ran.Store(true)
			wg.Done()
		})
		cancelled := s.Cancel(key)
		if cancelled {
			wg.Done()
		}
		wg.Wait()
		assert.NotEqual(t, cancelled, ran.Load(), "iteration %d", i)
	}
}

func TestNegativeDelayFiresImmediately(t *testing.T) {
	clk := NewFakeClock(epoch)
	s := New(clk)
	var fired atomic.Bool
	s.Arm(Key{TaskID: "t1", Kind: KindStart}, -time.Hour, func() { fired.Store(true) })
	clk.Advance(0)
	assert.True(t, fired.Load())
}
