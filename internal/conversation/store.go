// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"sync"
	"time"

	"github.com/jeranaias/loglens/internal/util"
)

// =============================================================================
// TURN TYPES
// =============================================================================

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TokenUsage tracks input/output tokens for an assistant turn.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Turn is one message in the conversation history.
type Turn struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Mode      string     `json:"mode,omitempty"`
	Model     string     `json:"model,omitempty"`
	Usage     TokenUsage `json:"usage,omitempty"`
	Cost      float64    `json:"cost,omitempty"`
}

// ContextMessage is the wire shape of one turn inside a follow-up request
// payload.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// STORE
// =============================================================================

// DefaultContextTurns is how many trailing turns are sent as follow-up
// context.
const DefaultContextTurns = 5

// DefaultContextChars caps each context turn's content.
const DefaultContextChars = 500

// Store is the append-only turn list for one viewer. It survives across
// analysis sessions; sessions append to it on completion.
type Store struct {
	mu    sync.Mutex
	turns []Turn
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a turn to the history. The full history is retained; nothing
// is ever evicted here.
func (s *Store) Append(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Turns returns a copy of the full history, oldest first.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Last returns the most recent turn, or false when the history is empty.
func (s *Store) Last() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// Clear drops the in-memory history. The archive, if any, is unaffected.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// =============================================================================
// CONTEXT WINDOW
// =============================================================================

// RecentContext returns the last n turns with each content truncated to
// maxChars characters (rune-safe), preserving role and order. Only this
// view is bounded; the stored history is not.
func (s *Store) RecentContext(n, maxChars int) []ContextMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.turns) == 0 {
		return nil
	}

	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}

	out := make([]ContextMessage, 0, len(s.turns)-start)
	for _, t := range s.turns[start:] {
		out = append(out, ContextMessage{
			Role:    string(t.Role),
			Content: util.TruncateRunesNoEllipsis(t.Content, maxChars),
		})
	}
	return out
}
