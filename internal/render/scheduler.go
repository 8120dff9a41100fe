// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"sync"
	"time"
)

// =============================================================================
// SCHEDULER
// =============================================================================

// DefaultDebounce is the settling window for the streaming content path.
const DefaultDebounce = 100 * time.Millisecond

// FrameInterval approximates one display frame for the secondary redraw
// path.
const FrameInterval = 16 * time.Millisecond

// Scheduler coalesces Schedule calls into at most one callback execution
// per window. Safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	pending func()
}

// NewScheduler creates a debounce scheduler with the given settling
// window. A non-positive window falls back to DefaultDebounce.
func NewScheduler(window time.Duration) *Scheduler {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Scheduler{window: window}
}

// NewFrameScheduler creates a scheduler aligned to display-frame cadence.
func NewFrameScheduler() *Scheduler {
	return &Scheduler{window: FrameInterval}
}

// Schedule queues fn to run after the settling window. If a callback is
// already pending it is replaced and its timer restarted: the previous
// callback never fires.
func (s *Scheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = fn
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, s.fire)
}

// fire runs the pending callback, if Cancel has not cleared it since the
// timer was armed.
func (s *Scheduler) fire() {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel drops any pending callback. A render scheduled before a stop must
// never land after cleanup.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Flush runs any pending callback immediately instead of waiting out the
// window. Used for the forced final render on completion.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Pending reports whether a callback is waiting to fire.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
