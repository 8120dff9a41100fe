// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/loglens/internal/sse"
)

// Snapshot is a point-in-time view of backend rate limit usage.
type Snapshot struct {
	RequestsUsed      int
	RequestsLimit     int
	InputTokensUsed   int
	InputTokensLimit  int
	OutputTokensUsed  int
	OutputTokensLimit int
	UpdatedAt         time.Time
}

// RequestsRemaining returns the remaining request budget, or -1 when the
// backend reported no limit.
func (s Snapshot) RequestsRemaining() int {
	if s.RequestsLimit <= 0 {
		return -1
	}
	remaining := s.RequestsLimit - s.RequestsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RequestsPercent returns request budget consumption in percent, clamped
// to [0,100]. Returns 0 when no limit was reported.
func (s Snapshot) RequestsPercent() float64 {
	return percent(s.RequestsUsed, s.RequestsLimit)
}

// InputTokensPercent returns input token budget consumption in percent.
func (s Snapshot) InputTokensPercent() float64 {
	return percent(s.InputTokensUsed, s.InputTokensLimit)
}

// OutputTokensPercent returns output token budget consumption in percent.
func (s Snapshot) OutputTokensPercent() float64 {
	return percent(s.OutputTokensUsed, s.OutputTokensLimit)
}

func percent(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	p := float64(used) / float64(limit) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Format renders the snapshot for a one-line status display.
func (s Snapshot) Format() string {
	if s.UpdatedAt.IsZero() {
		return "rate limits: unknown"
	}
	return fmt.Sprintf("requests %d/%d, input tokens %d/%d, output tokens %d/%d",
		s.RequestsUsed, s.RequestsLimit,
		s.InputTokensUsed, s.InputTokensLimit,
		s.OutputTokensUsed, s.OutputTokensLimit)
}

// Tracker holds the latest rate limit snapshot. Safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update replaces the snapshot from a rate_limit_info usage payload.
func (t *Tracker) Update(u sse.UsageLimits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{
		RequestsUsed:      u.RequestsUsed,
		RequestsLimit:     u.RequestsLimit,
		InputTokensUsed:   u.InputTokensUsed,
		InputTokensLimit:  u.InputTokensLimit,
		OutputTokensUsed:  u.OutputTokensUsed,
		OutputTokensLimit: u.OutputTokensLimit,
		UpdatedAt:         time.Now(),
	}
}

// Current returns the latest snapshot.
func (t *Tracker) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
