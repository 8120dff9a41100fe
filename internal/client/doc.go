// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client implements the HTTP client for the loglens AI backend.
//
// The backend exposes three endpoints: POST /api/ai/analyze for analysis
// requests (streaming and non-streaming), POST /api/ai/stop/{session_id}
// for best-effort cancellation, and GET /api/ai/models/{provider} for
// model discovery.
//
// # Key Types
//
//   - Client: configured backend client with retry and pacing
//   - AnalyzeRequest: analysis request payload
//   - AnalyzeResult: non-streaming response payload
//   - BackendError: typed error for non-2xx responses
//
// # Usage
//
//	c := client.New("http://localhost:8090")
//	body, err := c.AnalyzeStream(ctx, req)
//	if err != nil { ... }
//	defer body.Close()
//	reader := sse.NewReader(body)
//
// The streaming path never retries at the transport level: retries during
// an active analysis are driven by the backend through retry events.
package client
