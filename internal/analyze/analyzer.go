// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analyze

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/loglens/internal/client"
	"github.com/jeranaias/loglens/internal/conversation"
)

// Analyzer is the front door for analysis. It owns at most one session
// and enforces last-writer-wins: a new analysis stops whatever session
// is still streaming instead of queueing behind it.
type Analyzer struct {
	mu sync.Mutex

	backend Backend
	view    View
	store   *conversation.Store
	opts    Options

	current *Session

	// lastQuestion is kept across a failed quick question so the host
	// can offer it back without the user retyping.
	lastQuestion string
}

// NewAnalyzer creates an analyzer over a shared conversation store.
func NewAnalyzer(backend Backend, view View, store *conversation.Store, opts Options) *Analyzer {
	return &Analyzer{
		backend: backend,
		view:    view,
		store:   store,
		opts:    opts,
	}
}

// Current returns the most recent session, or nil before the first
// analysis.
func (a *Analyzer) Current() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// LastQuestion returns the quick question preserved from a failed Ask,
// or empty once one succeeds.
func (a *Analyzer) LastQuestion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastQuestion
}

// Analyze starts a streaming analysis of the given file. Any session
// still streaming is stopped first.
func (a *Analyzer) Analyze(ctx context.Context, filePath, fileName, content string) (*Session, error) {
	a.mu.Lock()
	prev := a.current
	a.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	sess := NewSession(a.backend, a.view, a.store, a.opts)
	a.mu.Lock()
	a.current = sess
	a.mu.Unlock()

	req := StartRequest{
		FilePath: filePath,
		FileName: fileName,
		Content:  content,
		Context:  a.recentContext(),
	}
	a.store.Append(conversation.Turn{
		Role:    conversation.RoleUser,
		Content: "Analyze " + fileName,
		Mode:    a.opts.Mode,
		Model:   a.opts.Model,
	})

	if err := sess.Start(ctx, req); err != nil {
		return nil, err
	}
	return sess, nil
}

// Ask sends a quick non-streaming question with recent conversation
// context. On failure the question is preserved for retry; on success
// both turns are recorded and the preserved question is cleared.
func (a *Analyzer) Ask(ctx context.Context, question string) (string, error) {
	a.mu.Lock()
	a.lastQuestion = question
	a.mu.Unlock()

	req := client.AnalyzeRequest{
		SessionID: uuid.NewString(),
		Provider:  a.opts.Provider,
		Model:     a.opts.Model,
		Mode:      "quick",
		Content:   question,
		Context:   a.recentContext(),
	}

	result, err := a.backend.Analyze(ctx, req)
	if err != nil {
		a.view.AppendError(fmt.Sprintf("Question failed: %v", err))
		return "", err
	}

	answer := result.Text()
	a.store.Append(conversation.Turn{
		Role:    conversation.RoleUser,
		Content: question,
		Mode:    "quick",
		Model:   a.opts.Model,
	})
	turn := conversation.Turn{
		Role:    conversation.RoleAssistant,
		Content: answer,
		Mode:    "quick",
		Model:   result.Model,
		Cost:    result.Cost,
	}
	if result.Usage != nil {
		turn.Usage = conversation.TokenUsage{Input: result.Usage.Input, Output: result.Usage.Output}
	}
	a.store.Append(turn)

	a.mu.Lock()
	a.lastQuestion = ""
	a.mu.Unlock()
	return answer, nil
}

// Stop halts the current session, if any. Safe to call at any time.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	sess := a.current
	a.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

// recentContext converts the store's bounded context window into the
// wire shape.
func (a *Analyzer) recentContext() []client.ContextMessage {
	msgs := a.store.RecentContext(conversation.DefaultContextTurns, conversation.DefaultContextChars)
	if len(msgs) == 0 {
		return nil
	}
	out := make([]client.ContextMessage, len(msgs))
	for i, m := range msgs {
		out[i] = client.ContextMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
