// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analyze

// NoticeLevel distinguishes informational from warning notices.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
)

// String returns the level name for display and logging.
func (l NoticeLevel) String() string {
	if l == NoticeWarning {
		return "warning"
	}
	return "info"
}

// View is the display surface a session renders into. Implementations
// must tolerate calls from timer goroutines; the session never calls a
// View method while holding its own lock.
type View interface {
	// RenderContent replaces the displayed analysis with formatted HTML.
	RenderContent(html string)

	// AppendError shows an error inline after any existing content.
	AppendError(message string)

	// ShowNotice displays an info or warning message once.
	ShowNotice(level NoticeLevel, message string)

	// ShowRetry displays the transient retry banner shown when the
	// backend restarts a stream.
	ShowRetry(message string)

	// ClearRetry removes the retry banner.
	ClearRetry()

	// ShowCountdown displays or updates the countdown notice.
	ShowCountdown(message string)

	// ClearCountdown removes the countdown notice.
	ClearCountdown()

	// Clear wipes content, notices, and banners.
	Clear()
}
