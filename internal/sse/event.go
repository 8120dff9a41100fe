// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import "encoding/json"

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType discriminates backend stream events.
type EventType string

const (
	EventStart         EventType = "start"
	EventContent       EventType = "content"
	EventInfo          EventType = "info"
	EventWarning       EventType = "warning"
	EventRetry         EventType = "retry"
	EventRateLimitWait EventType = "rate_limit_wait"
	EventRateLimitInfo EventType = "rate_limit_info"
	EventTokens        EventType = "tokens"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
	EventStopped       EventType = "stopped"
)

// =============================================================================
// EVENT PAYLOAD
// =============================================================================

// Event is one decoded line of the analysis stream. Fields are populated
// according to Type; unrelated fields are zero.
type Event struct {
	Type EventType `json:"type"`

	// content
	Content string `json:"content,omitempty"`

	// info / warning / retry
	Message string `json:"message,omitempty"`

	// start / retry
	RetryCount int `json:"retry_count,omitempty"`
	MaxRetries int `json:"max_retries,omitempty"`
	Delay      int `json:"delay,omitempty"` // seconds until the retry fires

	// rate_limit_wait
	Reason   string  `json:"reason,omitempty"`
	WaitTime float64 `json:"wait_time,omitempty"` // seconds, may be fractional

	// tokens
	Input  int `json:"input,omitempty"`
	Output int `json:"output,omitempty"`

	// complete / rate_limit_info. The two event types reuse the "usage"
	// key with different shapes, so it is kept raw and decoded on demand.
	Usage json.RawMessage `json:"usage,omitempty"`
	Cost  float64         `json:"cost,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// TokenUsage is the usage shape carried by a complete event.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// UsageLimits is the usage shape carried by a rate_limit_info event.
type UsageLimits struct {
	RequestsUsed      int `json:"requests_used"`
	RequestsLimit     int `json:"requests_limit"`
	InputTokensUsed   int `json:"input_tokens_used"`
	InputTokensLimit  int `json:"input_tokens_limit"`
	OutputTokensUsed  int `json:"output_tokens_used"`
	OutputTokensLimit int `json:"output_tokens_limit"`
}

// TokenUsage decodes the usage payload of a complete event. Returns zero
// usage when the field is absent or malformed.
func (e *Event) TokenUsage() TokenUsage {
	var u TokenUsage
	if len(e.Usage) > 0 {
		_ = json.Unmarshal(e.Usage, &u)
	}
	return u
}

// UsageLimits decodes the usage payload of a rate_limit_info event.
func (e *Event) UsageLimits() UsageLimits {
	var u UsageLimits
	if len(e.Usage) > 0 {
		_ = json.Unmarshal(e.Usage, &u)
	}
	return u
}

// IsTerminal reports whether the event ends the session's streaming phase.
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventComplete, EventError, EventStopped:
		return true
	default:
		return false
	}
}
