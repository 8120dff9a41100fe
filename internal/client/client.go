// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the backend client.
const (
	// DefaultBaseURL is the default backend base URL.
	DefaultBaseURL = "http://localhost:8090"

	// DefaultTimeout is the timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for non-streaming requests.
	DefaultMaxRetries = 3

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	// defaultRequestsPerSecond paces outbound requests so a looping host
	// cannot hammer the backend.
	defaultRequestsPerSecond = 5
)

// Sentinel errors for common backend failures.
var (
	// ErrNotConfigured indicates the client has no base URL.
	ErrNotConfigured = errors.New("backend URL not configured")

	// ErrBackendUnavailable indicates the backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// BackendError represents a non-2xx response from the backend.
type BackendError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// ContextMessage is one prior conversation turn sent with a request.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnalyzeRequest is the payload for POST /api/ai/analyze.
type AnalyzeRequest struct {
	SessionID string           `json:"session_id"`
	Provider  string           `json:"provider"`
	Model     string           `json:"model"`
	Mode      string           `json:"mode"`
	FilePath  string           `json:"file_path"`
	FileName  string           `json:"file_name"`
	Content   string           `json:"content"`
	Stream    bool             `json:"stream"`
	Context   []ContextMessage `json:"context,omitempty"`
}

// AnalyzeResult is the non-streaming response from POST /api/ai/analyze.
// The backend uses "analysis" for file analysis and "result" for quick
// questions; Text() resolves whichever is present.
type AnalyzeResult struct {
	Success  bool        `json:"success"`
	Analysis string      `json:"analysis"`
	Result   string      `json:"result"`
	Model    string      `json:"model"`
	Cost     float64     `json:"cost"`
	Usage    *TokenUsage `json:"usage"`
	Error    string      `json:"error"`
}

// TokenUsage mirrors the usage object on non-streaming responses.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Text returns the analysis text regardless of which field carried it.
func (r *AnalyzeResult) Text() string {
	if r.Analysis != "" {
		return r.Analysis
	}
	return r.Result
}

// ModelPricing is per-token pricing for a model.
type ModelPricing struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Pricing     *ModelPricing `json:"pricing"`
}

// modelsResponse is the wire shape of GET /api/ai/models/{provider}.
type modelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// apiErrorResponse is the wire shape of backend error bodies.
type apiErrorResponse struct {
	Error string `json:"error"`
}

// Client talks to the loglens AI backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout; streaming lifetime is context-controlled.
	streamClient *http.Client
	maxRetries   int
	limiter      *rate.Limiter
}

// New creates a backend client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
		maxRetries:   DefaultMaxRetries,
		limiter:      rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
	}
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the retry budget for non-streaming requests.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// WithRateLimit sets the outbound request pacing in requests per second.
func (c *Client) WithRateLimit(perSecond float64) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// ANALYZE
// =============================================================================

// AnalyzeStream opens a streaming analysis. The returned body carries
// `data: <json>` lines until the backend closes the connection; feed it to
// sse.NewReader. The caller must Close the body, and cancelling ctx tears
// the transport down.
func (c *Client) AnalyzeStream(ctx context.Context, req AnalyzeRequest) (io.ReadCloser, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	req.Stream = true

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, c.baseURL+"/api/ai/analyze", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}
	return resp.Body, nil
}

// Analyze performs a non-streaming analysis request. Transient failures
// (5xx, connection errors) are retried with exponential backoff.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, http.MethodPost, c.baseURL+"/api/ai/analyze", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	var result AnalyzeResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "analysis failed"
		}
		return &result, &BackendError{Status: resp.StatusCode, Message: msg}
	}
	return &result, nil
}

// =============================================================================
// STOP / MODELS
// =============================================================================

// Stop sends the best-effort cancellation signal for a session. A non-2xx
// status is returned as a BackendError but callers normally only log it.
func (c *Client) Stop(ctx context.Context, sessionID string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/ai/stop/"+sessionID, nil)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	return nil
}

// Models lists the models available from the given provider.
func (c *Client) Models(ctx context.Context, provider string) ([]ModelInfo, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	resp, err := c.doWithRetry(ctx, http.MethodGet, c.baseURL+"/api/ai/models/"+provider, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	var mr modelsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&mr); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	return mr.Models, nil
}

// =============================================================================
// TRANSPORT HELPERS
// =============================================================================

func (c *Client) newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// doWithRetry performs a request with exponential backoff on 5xx and
// connection errors. Bodies are rebuilt per attempt so retries are safe.
func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			log.Printf("backend %s %s: %d (%v)", method, req.URL.Path, resp.StatusCode, time.Since(start))
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp.Body.Close()
		}
		log.Printf("backend %s %s attempt %d failed: %v", method, url, attempt+1, lastErr)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(calculateBackoff(attempt)):
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the delay before the given retry attempt:
// 500ms, 1s, 2s, capped at 10s.
func calculateBackoff(attempt int) time.Duration {
	delay := 500 * time.Millisecond << uint(attempt)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	return delay
}

// statusError converts a non-2xx response into a BackendError, pulling the
// message out of the body when the backend sent one.
func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))

	var apiErr apiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		return &BackendError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &BackendError{Status: resp.StatusCode, Message: msg}
}
