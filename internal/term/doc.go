// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package term renders analysis sessions to a terminal.
//
// View implements analyze.View: streamed content shows as a one-line
// live preview, notices and countdowns are styled with lipgloss, and
// the finished answer is rendered with glamour by the host. Colors
// adapt to the terminal background via termenv.
package term
