// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analyze manages streaming AI analysis sessions.
//
// A Session owns one analysis stream end to end: it opens the backend
// stream, decodes events, accumulates the assistant's answer, drives
// debounced rendering through a View, and appends the finished turn to
// the conversation store. The Analyzer sits in front and enforces the
// one-active-session rule: starting a new analysis stops any session
// still streaming.
//
// # Key Types
//
//   - Session: single analysis stream state machine
//   - Analyzer: session lifecycle front door, plus quick questions
//   - View: display surface the session renders into
//   - Backend: the HTTP client surface a session needs
//
// # Session lifecycle
//
//	idle -> streaming -> {completing, stopped, error} -> idle
//
// The three ways a stream ends stay distinguishable: complete keeps the
// rendered answer and records a conversation turn, error keeps partial
// output with the error appended, and a user stop discards everything.
// A stream that ends without a complete event is completed synthetically
// after a short grace delay so the display never sticks in progress.
package analyze
