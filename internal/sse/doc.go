// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the analysis backend's server-sent-event stream.
//
// The backend answers a streaming analyze request with newline-delimited
// lines of the form "data: {json}". Network chunks split lines at arbitrary
// byte offsets, so the reader buffers incomplete trailing lines across
// reads and only surfaces complete events. A malformed JSON line is a
// recoverable condition: it is logged and skipped, never aborting the
// stream.
//
// # Key Types
//
//   - Event: decoded backend event, discriminated by Type
//   - Reader: incremental line-buffered decoder over an io.Reader
//
// # Usage
//
//	reader := sse.NewReader(resp.Body)
//	err := reader.Stream(ctx, func(ev sse.Event) {
//	    // dispatch by ev.Type
//	})
package sse
