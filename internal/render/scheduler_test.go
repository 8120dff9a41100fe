// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// COALESCING TESTS
// =============================================================================

// TestScheduleCoalescesBurst verifies a burst of calls produces exactly
// one execution.
func TestScheduleCoalescesBurst(t *testing.T) {
	s := NewScheduler(20 * time.Millisecond)

	var runs atomic.Int32
	for i := 0; i < 50; i++ {
		s.Schedule(func() { runs.Add(1) })
	}

	time.Sleep(100 * time.Millisecond)

	if got := runs.Load(); got != 1 {
		t.Errorf("burst of 50 schedules ran %d times, expected 1", got)
	}
}

// TestScheduleLastCallWins verifies a re-schedule replaces the pending
// callback, so only the latest snapshot is rendered.
func TestScheduleLastCallWins(t *testing.T) {
	s := NewScheduler(20 * time.Millisecond)

	var got atomic.Value
	s.Schedule(func() { got.Store("stale") })
	s.Schedule(func() { got.Store("latest") })

	time.Sleep(100 * time.Millisecond)

	if v := got.Load(); v != "latest" {
		t.Errorf("executed callback = %v, expected latest", v)
	}
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

// TestCancelPreventsPendingRender verifies Cancel drops a queued callback
// entirely.
func TestCancelPreventsPendingRender(t *testing.T) {
	s := NewScheduler(20 * time.Millisecond)

	var runs atomic.Int32
	s.Schedule(func() { runs.Add(1) })
	s.Cancel()

	time.Sleep(100 * time.Millisecond)

	if got := runs.Load(); got != 0 {
		t.Errorf("cancelled render ran %d times, expected 0", got)
	}
	if s.Pending() {
		t.Error("scheduler still pending after Cancel")
	}
}

// TestScheduleAfterCancel verifies the scheduler is reusable after Cancel.
func TestScheduleAfterCancel(t *testing.T) {
	s := NewScheduler(10 * time.Millisecond)

	var runs atomic.Int32
	s.Schedule(func() { runs.Add(1) })
	s.Cancel()
	s.Schedule(func() { runs.Add(1) })

	time.Sleep(80 * time.Millisecond)

	if got := runs.Load(); got != 1 {
		t.Errorf("expected exactly the post-cancel schedule to run, got %d", got)
	}
}

// =============================================================================
// FLUSH TESTS
// =============================================================================

// TestFlushRunsImmediately verifies Flush executes the pending callback
// without waiting for the window, and leaves nothing queued.
func TestFlushRunsImmediately(t *testing.T) {
	s := NewScheduler(time.Hour)

	var runs atomic.Int32
	s.Schedule(func() { runs.Add(1) })
	s.Flush()

	if got := runs.Load(); got != 1 {
		t.Errorf("Flush ran %d callbacks, expected 1", got)
	}
	if s.Pending() {
		t.Error("callback still pending after Flush")
	}

	// Flush with nothing queued is a no-op.
	s.Flush()
	if got := runs.Load(); got != 1 {
		t.Errorf("idle Flush re-ran callback, total %d", got)
	}
}

// =============================================================================
// FRAME SCHEDULER TESTS
// =============================================================================

func TestFrameSchedulerFires(t *testing.T) {
	s := NewFrameScheduler()

	done := make(chan struct{})
	s.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame-aligned schedule never fired")
	}
}
