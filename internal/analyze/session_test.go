// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analyze

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/loglens/internal/client"
	"github.com/jeranaias/loglens/internal/conversation"
	"github.com/jeranaias/loglens/internal/sse"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeView struct {
	mu         sync.Mutex
	content    string
	renders    int
	errors     []string
	notices    []string
	retry      string
	countdown  string
	clearCalls int
}

func (v *fakeView) RenderContent(html string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.content = html
	v.renders++
}

func (v *fakeView) AppendError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = append(v.errors, msg)
}

func (v *fakeView) ShowNotice(level NoticeLevel, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, level.String()+": "+msg)
}

func (v *fakeView) ShowRetry(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.retry = msg
}

func (v *fakeView) ClearRetry() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.retry = ""
}

func (v *fakeView) ShowCountdown(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.countdown = msg
}

func (v *fakeView) ClearCountdown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.countdown = ""
}

func (v *fakeView) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.content = ""
	v.errors = nil
	v.notices = nil
	v.retry = ""
	v.countdown = ""
	v.clearCalls++
}

func (v *fakeView) snapshot() fakeView {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fakeView{
		content:    v.content,
		renders:    v.renders,
		errors:     append([]string(nil), v.errors...),
		notices:    append([]string(nil), v.notices...),
		retry:      v.retry,
		countdown:  v.countdown,
		clearCalls: v.clearCalls,
	}
}

type fakeBackend struct {
	mu        sync.Mutex
	stream    io.ReadCloser
	streamErr error
	result    *client.AnalyzeResult
	resultErr error
	stopCalls []string
}

func (b *fakeBackend) AnalyzeStream(ctx context.Context, req client.AnalyzeRequest) (io.ReadCloser, error) {
	if b.streamErr != nil {
		return nil, b.streamErr
	}
	return b.stream, nil
}

func (b *fakeBackend) Analyze(ctx context.Context, req client.AnalyzeRequest) (*client.AnalyzeResult, error) {
	if b.resultErr != nil {
		return nil, b.resultErr
	}
	return b.result, nil
}

func (b *fakeBackend) Stop(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCalls = append(b.stopCalls, sessionID)
	return nil
}

func (b *fakeBackend) stopped() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stopCalls...)
}

func stringStream(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

// newStreamingSession returns a session already in the streaming state so
// events can be dispatched to it directly.
func newStreamingSession(t *testing.T, backend Backend, view View, store *conversation.Store) *Session {
	t.Helper()
	s := NewSession(backend, view, store, Options{Model: "claude-sonnet", Mode: "smart", Debounce: 5 * time.Millisecond})
	s.mu.Lock()
	s.state = StateStreaming
	s.done = make(chan struct{})
	s.mu.Unlock()
	return s
}

// =============================================================================
// EVENT TABLE
// =============================================================================

func TestStopDiscardsErrorPreserves(t *testing.T) {
	t.Run("stopped clears partial content", func(t *testing.T) {
		view := &fakeView{}
		s := newStreamingSession(t, &fakeBackend{}, view, conversation.NewStore())

		s.handleEvent(sse.Event{Type: sse.EventContent, Content: "partial answer"})
		s.handleEvent(sse.Event{Type: sse.EventStopped})

		if s.Buffer() != "" {
			t.Errorf("buffer = %q after stop", s.Buffer())
		}
		snap := view.snapshot()
		if snap.content != "" {
			t.Errorf("displayed content = %q after stop", snap.content)
		}
		if s.Outcome() != StateStopped || s.State() != StateIdle {
			t.Errorf("outcome=%v state=%v", s.Outcome(), s.State())
		}
	})

	t.Run("error keeps partial content", func(t *testing.T) {
		view := &fakeView{}
		s := newStreamingSession(t, &fakeBackend{}, view, conversation.NewStore())

		s.handleEvent(sse.Event{Type: sse.EventContent, Content: "partial answer"})
		s.handleEvent(sse.Event{Type: sse.EventError, Error: "model overloaded"})

		snap := view.snapshot()
		if !strings.Contains(snap.content, "partial answer") {
			t.Errorf("displayed content lost partial output: %q", snap.content)
		}
		if len(snap.errors) != 1 || snap.errors[0] != "model overloaded" {
			t.Errorf("errors = %v", snap.errors)
		}
		if s.Outcome() != StateError || s.State() != StateIdle {
			t.Errorf("outcome=%v state=%v", s.Outcome(), s.State())
		}
	})
}

func TestInfoMessagesDeduplicated(t *testing.T) {
	view := &fakeView{}
	s := newStreamingSession(t, &fakeBackend{}, view, conversation.NewStore())

	s.handleEvent(sse.Event{Type: sse.EventInfo, Message: "using cached context"})
	s.handleEvent(sse.Event{Type: sse.EventInfo, Message: "using cached context"})
	s.handleEvent(sse.Event{Type: sse.EventWarning, Message: "using cached context"})
	s.handleEvent(sse.Event{Type: sse.EventInfo, Message: "other"})

	snap := view.snapshot()
	// The duplicate info is suppressed; the warning reuses the same text
	// and is suppressed too since de-dup is by exact message string.
	if len(snap.notices) != 2 {
		t.Fatalf("notices = %v", snap.notices)
	}
	if snap.notices[0] != "info: using cached context" || snap.notices[1] != "info: other" {
		t.Errorf("notices = %v", snap.notices)
	}
}

func TestCompleteRecordsTurnAndKeepsContent(t *testing.T) {
	view := &fakeView{}
	store := conversation.NewStore()
	s := newStreamingSession(t, &fakeBackend{}, view, store)

	s.handleEvent(sse.Event{Type: sse.EventContent, Content: "# Done\n\nall good"})
	s.handleEvent(sse.Event{
		Type:  sse.EventComplete,
		Usage: []byte(`{"input":100,"output":42}`),
		Cost:  0.002,
	})

	snap := view.snapshot()
	if !strings.Contains(snap.content, "<h1>Done</h1>") {
		t.Errorf("final render missing: %q", snap.content)
	}
	if store.Len() != 1 {
		t.Fatalf("turns = %d", store.Len())
	}
	turn, _ := store.Last()
	if turn.Role != conversation.RoleAssistant || turn.Content != "# Done\n\nall good" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Usage.Output != 42 || turn.Cost != 0.002 {
		t.Errorf("usage=%+v cost=%v", turn.Usage, turn.Cost)
	}
	if s.State() != StateIdle || s.Outcome() != StateCompleting {
		t.Errorf("state=%v outcome=%v", s.State(), s.Outcome())
	}

	in, out := s.TokenCounts()
	if in != 100 || out != 42 {
		t.Errorf("tokens = %d/%d", in, out)
	}
}

func TestStartWithRetryCountShowsBannerWithoutClearing(t *testing.T) {
	view := &fakeView{}
	s := newStreamingSession(t, &fakeBackend{}, view, conversation.NewStore())

	s.handleEvent(sse.Event{Type: sse.EventContent, Content: "before retry"})
	s.handleEvent(sse.Event{Type: sse.EventStart, RetryCount: 2})

	if s.Buffer() != "before retry" {
		t.Errorf("retry start cleared buffer: %q", s.Buffer())
	}
	snap := view.snapshot()
	if !strings.Contains(snap.retry, "attempt 2") {
		t.Errorf("retry banner = %q", snap.retry)
	}

	// Fresh content removes the banner again.
	s.handleEvent(sse.Event{Type: sse.EventContent, Content: " and after"})
	if got := view.snapshot().retry; got != "" {
		t.Errorf("retry banner survived content: %q", got)
	}
}

func TestRateLimitInfoForwardedToSink(t *testing.T) {
	type sink struct {
		mu   sync.Mutex
		last sse.UsageLimits
	}
	sk := &sink{}
	update := func(u sse.UsageLimits) {
		sk.mu.Lock()
		defer sk.mu.Unlock()
		sk.last = u
	}

	view := &fakeView{}
	s := NewSession(&fakeBackend{}, view, conversation.NewStore(), Options{RateSink: rateSinkFunc(update)})
	s.mu.Lock()
	s.state = StateStreaming
	s.mu.Unlock()

	s.handleEvent(sse.Event{
		Type:  sse.EventRateLimitInfo,
		Usage: []byte(`{"requests_used":7,"requests_limit":50}`),
	})

	sk.mu.Lock()
	defer sk.mu.Unlock()
	if sk.last.RequestsUsed != 7 || sk.last.RequestsLimit != 50 {
		t.Errorf("sink got %+v", sk.last)
	}
}

type rateSinkFunc func(sse.UsageLimits)

func (f rateSinkFunc) Update(u sse.UsageLimits) { f(u) }

func TestCountdownNotices(t *testing.T) {
	view := &fakeView{}
	s := newStreamingSession(t, &fakeBackend{}, view, conversation.NewStore())

	s.handleEvent(sse.Event{
		Type: sse.EventRetry, Message: "Overloaded", Delay: 1, RetryCount: 1, MaxRetries: 3,
	})
	snap := view.snapshot()
	if !strings.Contains(snap.countdown, "Overloaded") || !strings.Contains(snap.countdown, "1/3") {
		t.Errorf("countdown = %q", snap.countdown)
	}

	// One second later the countdown reaches zero and removes itself.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if view.snapshot().countdown == "" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("countdown never self-removed: %q", view.snapshot().countdown)
}

func TestRateLimitWaitRoundsSecondsUp(t *testing.T) {
	view := &fakeView{}
	s := newStreamingSession(t, &fakeBackend{}, view, conversation.NewStore())

	s.handleEvent(sse.Event{Type: sse.EventRateLimitWait, Reason: "Token budget", WaitTime: 1.2})
	if got := view.snapshot().countdown; !strings.Contains(got, "2s") {
		t.Errorf("countdown = %q, expected ceiling-rounded seconds", got)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestStartGuardsWhileStreaming(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	backend := &fakeBackend{stream: pr}
	view := &fakeView{}
	s := NewSession(backend, view, conversation.NewStore(), Options{})

	if err := s.Start(context.Background(), StartRequest{FileName: "a.log"}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(context.Background(), StartRequest{FileName: "b.log"}); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Start = %v, want ErrSessionBusy", err)
	}

	s.Stop()
	s.Wait()
}

func TestStopIsSynchronousAndIdempotent(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	backend := &fakeBackend{stream: pr}
	view := &fakeView{}
	s := NewSession(backend, view, conversation.NewStore(), Options{})

	if err := s.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	if s.State() != StateIdle {
		t.Errorf("state = %v immediately after Stop", s.State())
	}
	s.Stop() // no-op
	s.Wait()

	// The backend notification is best-effort and asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := backend.stopped(); len(calls) == 1 && calls[0] == s.ID() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("stop notifications = %v", backend.stopped())
}

func TestStopCancelsPendingRender(t *testing.T) {
	pr, pw := io.Pipe()

	backend := &fakeBackend{stream: pr}
	view := &fakeView{}
	s := NewSession(backend, view, conversation.NewStore(), Options{Debounce: 50 * time.Millisecond})

	if err := s.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() {
		pw.Write([]byte("data: {\"type\":\"content\",\"content\":\"stale\"}\n"))
	}()

	// Wait for the content event to arrive, then stop inside the
	// debounce window so the scheduled render must be cancelled.
	deadline := time.Now().Add(2 * time.Second)
	for s.Buffer() == "" && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if s.Buffer() == "" {
		t.Fatal("content event never applied")
	}
	s.Stop()
	pw.Close()
	s.Wait()

	time.Sleep(150 * time.Millisecond)
	snap := view.snapshot()
	if strings.Contains(snap.content, "stale") {
		t.Errorf("stale render landed after stop: %q", snap.content)
	}
}

func TestMissingCompleteSynthesizedOnce(t *testing.T) {
	backend := &fakeBackend{stream: stringStream(
		`data: {"type":"start","retry_count":0}`,
		`data: {"type":"content","content":"truncated answer"}`,
	)}
	view := &fakeView{}
	store := conversation.NewStore()
	s := NewSession(backend, view, store, Options{Grace: 30 * time.Millisecond, Debounce: 5 * time.Millisecond})

	if err := s.Start(context.Background(), StartRequest{FileName: "x.log"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Wait()

	if s.State() != StateIdle {
		t.Errorf("state = %v", s.State())
	}
	if s.Outcome() != StateCompleting {
		t.Errorf("outcome = %v", s.Outcome())
	}
	if store.Len() != 1 {
		t.Fatalf("turns = %d, want exactly one synthesized completion", store.Len())
	}
	turn, _ := store.Last()
	if turn.Role != conversation.RoleAssistant || turn.Content != "truncated answer" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Usage.Input != 0 || turn.Usage.Output != 0 || turn.Cost != 0 {
		t.Errorf("synthesized usage not zeroed: %+v cost=%v", turn.Usage, turn.Cost)
	}
}

func TestRealCompleteSuppressesSynthesis(t *testing.T) {
	backend := &fakeBackend{stream: stringStream(
		`data: {"type":"content","content":"answer"}`,
		`data: {"type":"complete","usage":{"input":5,"output":3},"cost":0.001}`,
	)}
	store := conversation.NewStore()
	s := NewSession(backend, &fakeView{}, store, Options{Grace: 20 * time.Millisecond})

	if err := s.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Wait()
	time.Sleep(60 * time.Millisecond)

	if store.Len() != 1 {
		t.Errorf("turns = %d, synthesis ran after a real complete", store.Len())
	}
}

func TestTransportFailureSurfacesAndReturnsIdle(t *testing.T) {
	backend := &fakeBackend{streamErr: errors.New("connection refused")}
	view := &fakeView{}
	s := NewSession(backend, view, conversation.NewStore(), Options{})

	err := s.Start(context.Background(), StartRequest{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, session must be retryable", s.State())
	}
	snap := view.snapshot()
	if len(snap.errors) != 1 || !strings.Contains(snap.errors[0], "connection refused") {
		t.Errorf("errors = %v", snap.errors)
	}
	s.Wait()
}

// blockingBackend parks AnalyzeStream until its context is canceled,
// signalling entry so a test can time a concurrent Stop.
type blockingBackend struct {
	fakeBackend
	entered chan struct{}
}

func (b *blockingBackend) AnalyzeStream(ctx context.Context, req client.AnalyzeRequest) (io.ReadCloser, error) {
	close(b.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopDuringRequestIsNotAnError(t *testing.T) {
	backend := &blockingBackend{entered: make(chan struct{})}
	view := &fakeView{}
	s := NewSession(backend, view, conversation.NewStore(), Options{})

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(context.Background(), StartRequest{}) }()

	<-backend.entered
	s.Stop()

	err := <-startErr
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start returned %v, want context.Canceled", err)
	}
	if s.State() != StateIdle || s.Outcome() != StateStopped {
		t.Errorf("state=%v outcome=%v", s.State(), s.Outcome())
	}
	if snap := view.snapshot(); len(snap.errors) != 0 {
		t.Errorf("errors = %v, a user stop must not surface a failure", snap.errors)
	}
	s.Wait()
}

func TestMalformedEventLinesSkipped(t *testing.T) {
	backend := &fakeBackend{stream: stringStream(
		`data: {"type":"content","content":"a"}`,
		`data: {not json`,
		`data: {"type":"content","content":"b"}`,
		`data: {"type":"complete","usage":{"input":1,"output":1}}`,
	)}
	s := NewSession(backend, &fakeView{}, conversation.NewStore(), Options{Debounce: 5 * time.Millisecond})

	if err := s.Start(context.Background(), StartRequest{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Wait()

	if s.Buffer() != "ab" {
		t.Errorf("buffer = %q", s.Buffer())
	}
}
