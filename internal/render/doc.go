// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render coalesces bursts of re-render requests.
//
// Tokens arrive from the stream far faster than the display should be
// rewritten, so every render request passes through a Scheduler that runs
// at most one render per settling window. Re-scheduling while a render is
// pending replaces the pending callback (last-call-wins), so a render
// always sees the latest buffer snapshot, never a stale one.
//
// Two strategies exist: a fixed debounce delay for the streaming content
// path, and a frame-aligned interval for secondary redraws.
package render
