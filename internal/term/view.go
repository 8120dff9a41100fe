// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package term

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"github.com/jeranaias/loglens/internal/analyze"
)

// =============================================================================
// STYLES
// =============================================================================

type styles struct {
	info      lipgloss.Style
	warning   lipgloss.Style
	errText   lipgloss.Style
	retry     lipgloss.Style
	countdown lipgloss.Style
	preview   lipgloss.Style
}

// newStyles picks colors for the terminal background. theme "auto"
// queries termenv; "dark" and "light" force a palette.
func newStyles(theme string) styles {
	dark := true
	switch theme {
	case "light":
		dark = false
	case "dark":
		dark = true
	default:
		dark = termenv.HasDarkBackground()
	}

	info := lipgloss.Color("12")
	warn := lipgloss.Color("11")
	errC := lipgloss.Color("9")
	dim := lipgloss.Color("8")
	if !dark {
		info = lipgloss.Color("4")
		warn = lipgloss.Color("3")
		errC = lipgloss.Color("1")
		dim = lipgloss.Color("7")
	}

	return styles{
		info:      lipgloss.NewStyle().Foreground(info),
		warning:   lipgloss.NewStyle().Foreground(warn).Bold(true),
		errText:   lipgloss.NewStyle().Foreground(errC).Bold(true),
		retry:     lipgloss.NewStyle().Foreground(warn),
		countdown: lipgloss.NewStyle().Foreground(dim),
		preview:   lipgloss.NewStyle().Foreground(dim),
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View writes session output to a terminal. It implements analyze.View.
type View struct {
	mu     sync.Mutex
	out    io.Writer
	width  int
	tty    bool
	theme  string
	styles styles

	// previewActive tracks whether the last written line is the live
	// preview, so it can be overwritten in place on a TTY.
	previewActive bool
}

var _ analyze.View = (*View)(nil)

// NewView creates a terminal view. width bounds the live preview line;
// tty enables in-place line rewriting.
func NewView(out io.Writer, width int, tty bool, theme string) *View {
	if width <= 0 {
		width = 80
	}
	return &View{
		out:    out,
		width:  width,
		tty:    tty,
		theme:  theme,
		styles: newStyles(theme),
	}
}

// RenderContent shows a live one-line preview of the streamed answer.
// The full answer is rendered by the host once the session finishes.
func (v *View) RenderContent(htmlContent string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	plain := plainText(htmlContent)
	preview := runewidth.Truncate(plain, v.width-2, "…")
	v.writeLine(v.styles.preview.Render(preview), true)
}

// AppendError shows an error after any existing output.
func (v *View) AppendError(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finishPreview()
	fmt.Fprintln(v.out, v.styles.errText.Render("✗ "+message))
}

// ShowNotice displays an info or warning line.
func (v *View) ShowNotice(level analyze.NoticeLevel, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finishPreview()
	if level == analyze.NoticeWarning {
		fmt.Fprintln(v.out, v.styles.warning.Render("⚠ "+message))
		return
	}
	fmt.Fprintln(v.out, v.styles.info.Render("• "+message))
}

// ShowRetry displays the stream-restart banner.
func (v *View) ShowRetry(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writeLine(v.styles.retry.Render("↻ "+message), true)
}

// ClearRetry removes the banner line on a TTY.
func (v *View) ClearRetry() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLine()
}

// ShowCountdown displays or updates the countdown line.
func (v *View) ShowCountdown(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writeLine(v.styles.countdown.Render("⏳ "+message), true)
}

// ClearCountdown removes the countdown line on a TTY.
func (v *View) ClearCountdown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLine()
}

// Clear wipes the live line. Scrollback is left alone.
func (v *View) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clearLine()
}

// FinishPreview terminates the live preview line so subsequent output
// starts on a fresh line. The host calls this before the final render.
func (v *View) FinishPreview() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finishPreview()
}

// writeLine writes a line, overwriting the previous live line on a TTY.
func (v *View) writeLine(s string, live bool) {
	if v.tty {
		if v.previewActive {
			fmt.Fprint(v.out, "\r\033[K")
		}
		fmt.Fprint(v.out, s)
		v.previewActive = live
		if !live {
			fmt.Fprintln(v.out)
		}
		return
	}
	fmt.Fprintln(v.out, s)
	v.previewActive = false
}

func (v *View) clearLine() {
	if v.tty && v.previewActive {
		fmt.Fprint(v.out, "\r\033[K")
		v.previewActive = false
	}
}

func (v *View) finishPreview() {
	if v.tty && v.previewActive {
		fmt.Fprintln(v.out)
		v.previewActive = false
	}
}

// =============================================================================
// FINAL RENDER
// =============================================================================

// RenderFinal renders the finished Markdown answer with glamour.
func (v *View) RenderFinal(markdownText string) (string, error) {
	opts := []glamour.TermRendererOption{
		glamour.WithWordWrap(v.width),
	}
	switch v.theme {
	case "dark":
		opts = append(opts, glamour.WithStandardStyle("dark"))
	case "light":
		opts = append(opts, glamour.WithStandardStyle("light"))
	default:
		opts = append(opts, glamour.WithAutoStyle())
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("failed to build renderer: %w", err)
	}
	out, err := renderer.Render(markdownText)
	if err != nil {
		return "", fmt.Errorf("failed to render answer: %w", err)
	}
	return out, nil
}

// =============================================================================
// HTML FLATTENING
// =============================================================================

var tagRegex = regexp.MustCompile(`<[^>]*>`)

var spaceRegex = regexp.MustCompile(`\s+`)

// plainText flattens formatted HTML into one whitespace-collapsed line
// for the preview.
func plainText(s string) string {
	s = tagRegex.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}
