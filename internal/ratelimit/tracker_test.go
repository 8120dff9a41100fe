// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"strings"
	"testing"

	"github.com/jeranaias/loglens/internal/sse"
)

func TestTrackerUpdateAndCurrent(t *testing.T) {
	tr := NewTracker()

	if got := tr.Current(); !got.UpdatedAt.IsZero() {
		t.Error("fresh tracker should have zero UpdatedAt")
	}

	tr.Update(sse.UsageLimits{
		RequestsUsed: 40, RequestsLimit: 100,
		InputTokensUsed: 2000, InputTokensLimit: 10000,
		OutputTokensUsed: 500, OutputTokensLimit: 4000,
	})

	snap := tr.Current()
	if snap.RequestsRemaining() != 60 {
		t.Errorf("remaining = %d", snap.RequestsRemaining())
	}
	if snap.RequestsPercent() != 40 {
		t.Errorf("percent = %v", snap.RequestsPercent())
	}
	if snap.InputTokensPercent() != 20 {
		t.Errorf("input percent = %v", snap.InputTokensPercent())
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestSnapshotEdges(t *testing.T) {
	tests := []struct {
		name          string
		snap          Snapshot
		wantRemaining int
		wantPercent   float64
	}{
		{"no limit reported", Snapshot{RequestsUsed: 5}, -1, 0},
		{"over the limit", Snapshot{RequestsUsed: 150, RequestsLimit: 100}, 0, 100},
		{"untouched", Snapshot{RequestsLimit: 100}, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.RequestsRemaining(); got != tt.wantRemaining {
				t.Errorf("remaining = %d, want %d", got, tt.wantRemaining)
			}
			if got := tt.snap.RequestsPercent(); got != tt.wantPercent {
				t.Errorf("percent = %v, want %v", got, tt.wantPercent)
			}
		})
	}
}

func TestSnapshotFormat(t *testing.T) {
	if got := (Snapshot{}).Format(); got != "rate limits: unknown" {
		t.Errorf("empty format = %q", got)
	}

	tr := NewTracker()
	tr.Update(sse.UsageLimits{RequestsUsed: 1, RequestsLimit: 2})
	if got := tr.Current().Format(); !strings.Contains(got, "requests 1/2") {
		t.Errorf("format = %q", got)
	}
}
