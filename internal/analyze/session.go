// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/loglens/internal/client"
	"github.com/jeranaias/loglens/internal/conversation"
	"github.com/jeranaias/loglens/internal/markdown"
	"github.com/jeranaias/loglens/internal/render"
	"github.com/jeranaias/loglens/internal/sse"
)

// =============================================================================
// STATE
// =============================================================================

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleting
	StateStopped
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrSessionBusy is returned by Start while a stream is already active.
var ErrSessionBusy = errors.New("session already streaming")

// DefaultGrace is the delay before synthesizing a completion for a stream
// that ended without a complete event.
const DefaultGrace = 500 * time.Millisecond

// stopNotifyTimeout bounds the best-effort backend stop call.
const stopNotifyTimeout = 5 * time.Second

// =============================================================================
// COLLABORATOR SURFACES
// =============================================================================

// Backend is the client surface a session needs. *client.Client satisfies
// it; tests substitute httptest-backed clients or fakes.
type Backend interface {
	AnalyzeStream(ctx context.Context, req client.AnalyzeRequest) (io.ReadCloser, error)
	Analyze(ctx context.Context, req client.AnalyzeRequest) (*client.AnalyzeResult, error)
	Stop(ctx context.Context, sessionID string) error
}

// RateSink receives backend rate limit usage as it is reported.
// *ratelimit.Tracker satisfies it.
type RateSink interface {
	Update(sse.UsageLimits)
}

// Options configures a session.
type Options struct {
	Provider string
	Model    string
	Mode     string

	// Grace overrides DefaultGrace when positive.
	Grace time.Duration

	// Debounce overrides render.DefaultDebounce when positive.
	Debounce time.Duration

	// RateSink receives rate_limit_info usage. Optional.
	RateSink RateSink
}

// StartRequest carries the per-analysis inputs.
type StartRequest struct {
	FilePath string
	FileName string
	Content  string
	Context  []client.ContextMessage
}

// =============================================================================
// SESSION
// =============================================================================

// Session runs one streaming analysis. All event effects are serialized
// through mu; View methods are always invoked outside the lock.
type Session struct {
	mu sync.Mutex

	id       string
	provider string
	model    string
	mode     string

	state State
	// outcome records how the last stream ended: StateCompleting,
	// StateStopped, or StateError. Zero (StateIdle) before any stream.
	outcome State
	buffer  string
	seen    map[string]struct{}

	inputTokens  int
	outputTokens int
	cost         float64

	backend   Backend
	view      View
	store     *conversation.Store
	rates     RateSink
	scheduler *render.Scheduler

	grace       time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
	sawTerminal bool

	// countdownGen invalidates in-flight countdown ticks when a new
	// countdown starts or the session leaves streaming.
	countdownGen int
}

// NewSession creates an idle session.
func NewSession(backend Backend, view View, store *conversation.Store, opts Options) *Session {
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Session{
		id:        uuid.NewString(),
		provider:  opts.Provider,
		model:     opts.Model,
		mode:      opts.Mode,
		backend:   backend,
		view:      view,
		store:     store,
		rates:     opts.RateSink,
		scheduler: render.NewScheduler(opts.Debounce),
		grace:     grace,
		seen:      make(map[string]struct{}),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome reports how the most recent stream ended: StateCompleting for
// a normal or synthesized completion, StateStopped for a user stop,
// StateError for a backend error. StateIdle before any stream has ended.
func (s *Session) Outcome() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Buffer returns the accumulated assistant text.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// TokenCounts returns the running input and output token counters.
func (s *Session) TokenCounts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputTokens, s.outputTokens
}

// Cost returns the accumulated cost reported by the backend.
func (s *Session) Cost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}

// Start opens the backend stream and begins consuming events. Returns
// ErrSessionBusy if a stream is already active. A transport failure is
// shown through the View and the session returns to idle so the caller
// may retry.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.state = StateStreaming
	s.outcome = StateIdle
	s.buffer = ""
	s.seen = make(map[string]struct{})
	s.inputTokens, s.outputTokens, s.cost = 0, 0, 0
	s.sawTerminal = false
	s.countdownGen++
	s.done = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	areq := client.AnalyzeRequest{
		SessionID: s.id,
		Provider:  s.provider,
		Model:     s.model,
		Mode:      s.mode,
		FilePath:  req.FilePath,
		FileName:  req.FileName,
		Content:   req.Content,
		Stream:    true,
		Context:   req.Context,
	}
	done := s.done
	s.mu.Unlock()

	body, err := s.backend.AnalyzeStream(runCtx, areq)
	if err != nil {
		cancel()
		s.mu.Lock()
		stopped := s.outcome == StateStopped
		s.state = StateIdle
		s.mu.Unlock()
		close(done)
		// A user stop cancels runCtx; that cancellation is not a failure.
		if !stopped || !errors.Is(err, context.Canceled) {
			s.view.AppendError(fmt.Sprintf("Analysis request failed: %v", err))
		}
		return err
	}

	go s.run(runCtx, body)
	return nil
}

// Stop halts an active stream. Local state flips synchronously so the
// display responds instantly; the backend stop notification runs in the
// background and failures are only logged. Idempotent when not streaming.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	s.outcome = StateStopped
	s.buffer = ""
	s.countdownGen++
	s.scheduler.Cancel()
	if s.cancel != nil {
		s.cancel()
	}
	s.state = StateIdle
	id := s.id
	s.mu.Unlock()

	s.view.Clear()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopNotifyTimeout)
		defer cancel()
		if err := s.backend.Stop(ctx, id); err != nil {
			log.Printf("analyze: stop notification for session %s failed: %v", id, err)
		}
	}()
}

// Wait blocks until the stream goroutine has fully finished, including
// any grace-delay completion. Returns immediately if never started.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// =============================================================================
// STREAM LOOP
// =============================================================================

func (s *Session) run(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)
	defer body.Close()

	// A cancelled session must not leave the read loop blocked on the
	// transport; closing the body forces the pending read to return.
	unblock := context.AfterFunc(ctx, func() { body.Close() })
	defer unblock()

	reader := sse.NewReader(body)
	if err := reader.Stream(ctx, s.handleEvent); err != nil {
		if ctx.Err() != nil {
			// Cancellation: Stop already cleaned up locally.
			return
		}
		s.failTransport(err)
		return
	}

	s.mu.Lock()
	terminal := s.sawTerminal
	s.mu.Unlock()
	if terminal {
		return
	}

	// The transport ended without a complete event. Wait out the grace
	// delay before synthesizing one; a late stop during the delay wins.
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.grace):
	}
	s.synthesizeComplete()
}

// handleEvent applies one decoded event. State changes happen under the
// lock; View and store effects are collected and run after unlock.
func (s *Session) handleEvent(ev sse.Event) {
	s.mu.Lock()
	effects := s.applyEvent(&ev)
	s.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

func (s *Session) applyEvent(ev *sse.Event) []func() {
	switch ev.Type {
	case sse.EventStart:
		if ev.RetryCount > 0 {
			msg := fmt.Sprintf("Retrying analysis (attempt %d)...", ev.RetryCount)
			return []func(){func() { s.view.ShowRetry(msg) }}
		}
		s.buffer = ""
		s.seen = make(map[string]struct{})
		return []func(){s.view.Clear}

	case sse.EventContent:
		s.buffer += ev.Content
		s.scheduler.Schedule(s.renderLatest)
		return []func(){s.view.ClearRetry}

	case sse.EventInfo:
		return s.noticeOnce(NoticeInfo, ev.Message)

	case sse.EventWarning:
		return s.noticeOnce(NoticeWarning, ev.Message)

	case sse.EventRetry:
		msg := ev.Message
		if msg == "" {
			msg = "Retrying"
		}
		retryCount, maxRetries := ev.RetryCount, ev.MaxRetries
		return s.startCountdown(ev.Delay, func(sec int) string {
			return fmt.Sprintf("%s (attempt %d/%d, %ds)", msg, retryCount, maxRetries, sec)
		})

	case sse.EventRateLimitWait:
		reason := ev.Reason
		if reason == "" {
			reason = "Rate limited"
		}
		seconds := int(math.Ceil(ev.WaitTime))
		return s.startCountdown(seconds, func(sec int) string {
			return fmt.Sprintf("%s, waiting %ds...", reason, sec)
		})

	case sse.EventRateLimitInfo:
		if s.rates == nil {
			return nil
		}
		usage := ev.UsageLimits()
		return []func(){func() { s.rates.Update(usage) }}

	case sse.EventTokens:
		if ev.Input > 0 {
			s.inputTokens = ev.Input
		}
		if ev.Output > 0 {
			s.outputTokens = ev.Output
		}
		return nil

	case sse.EventComplete:
		return s.finalize(ev.TokenUsage(), ev.Cost)

	case sse.EventError:
		s.sawTerminal = true
		s.countdownGen++
		s.outcome = StateError
		s.state = StateIdle
		s.scheduler.Cancel()
		msg := ev.Error
		if msg == "" {
			msg = "analysis failed"
		}
		// Partial output stays visible with the error appended after it.
		html := markdown.Format(s.buffer)
		return []func(){
			s.view.ClearCountdown,
			func() { s.view.RenderContent(html) },
			func() { s.view.AppendError(msg) },
		}

	case sse.EventStopped:
		s.sawTerminal = true
		s.countdownGen++
		s.buffer = ""
		s.scheduler.Cancel()
		s.outcome = StateStopped
		s.state = StateIdle
		return []func(){s.view.Clear}

	default:
		log.Printf("analyze: ignoring unknown event type %q", ev.Type)
		return nil
	}
}

// finalize applies a complete event: one last full render, a recorded
// assistant turn, and the transition back to idle. The rendered content
// stays visible.
func (s *Session) finalize(usage sse.TokenUsage, cost float64) []func() {
	s.sawTerminal = true
	s.countdownGen++
	s.outcome = StateCompleting
	s.scheduler.Cancel()

	if usage.Input > 0 {
		s.inputTokens = usage.Input
	}
	if usage.Output > 0 {
		s.outputTokens = usage.Output
	}
	s.cost += cost

	turn := conversation.Turn{
		Role:    conversation.RoleAssistant,
		Content: s.buffer,
		Mode:    s.mode,
		Model:   s.model,
		Usage:   conversation.TokenUsage{Input: usage.Input, Output: usage.Output},
		Cost:    cost,
	}
	html := markdown.Format(s.buffer)
	s.state = StateIdle

	return []func(){
		s.view.ClearRetry,
		s.view.ClearCountdown,
		func() { s.view.RenderContent(html) },
		func() { s.store.Append(turn) },
	}
}

// failTransport ends the session after a mid-stream read failure.
// Partial output stays visible, matching the error event path.
func (s *Session) failTransport(err error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	s.outcome = StateError
	s.state = StateIdle
	s.countdownGen++
	s.scheduler.Cancel()
	html := markdown.Format(s.buffer)
	s.mu.Unlock()

	s.view.ClearCountdown()
	s.view.RenderContent(html)
	s.view.AppendError(fmt.Sprintf("Stream failed: %v", err))
}

// synthesizeComplete fires the grace-delay completion, unless a real
// terminal event or a stop arrived in the meantime.
func (s *Session) synthesizeComplete() {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	effects := s.finalize(sse.TokenUsage{}, 0)
	s.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

// noticeOnce shows a message only the first time its exact text appears
// this session. Identical warnings must not stack.
func (s *Session) noticeOnce(level NoticeLevel, msg string) []func() {
	if msg == "" {
		return nil
	}
	if _, dup := s.seen[msg]; dup {
		return nil
	}
	s.seen[msg] = struct{}{}
	return []func(){func() { s.view.ShowNotice(level, msg) }}
}

// renderLatest formats the buffer as it stands when the debounce window
// fires, never a stale snapshot. A session no longer streaming skips the
// render so a racing timer cannot resurrect cleared output.
func (s *Session) renderLatest() {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	buf := s.buffer
	s.mu.Unlock()

	s.view.RenderContent(markdown.Format(buf))
}

// =============================================================================
// COUNTDOWN NOTICES
// =============================================================================

// startCountdown shows a per-second countdown notice that removes itself
// at zero. A newer countdown or any state change invalidates the ticks.
// Called with mu held.
func (s *Session) startCountdown(seconds int, format func(sec int) string) []func() {
	s.countdownGen++
	gen := s.countdownGen
	if seconds <= 0 {
		return []func(){s.view.ClearCountdown}
	}

	time.AfterFunc(time.Second, func() { s.tickCountdown(gen, seconds-1, format) })
	msg := format(seconds)
	return []func(){func() { s.view.ShowCountdown(msg) }}
}

func (s *Session) tickCountdown(gen, remaining int, format func(sec int) string) {
	s.mu.Lock()
	if gen != s.countdownGen || s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	if remaining <= 0 {
		s.mu.Unlock()
		s.view.ClearCountdown()
		return
	}
	time.AfterFunc(time.Second, func() { s.tickCountdown(gen, remaining-1, format) })
	s.mu.Unlock()

	s.view.ShowCountdown(format(remaining))
}
