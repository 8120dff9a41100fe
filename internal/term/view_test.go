// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package term

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jeranaias/loglens/internal/analyze"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"strips tags",
			`<div class="analysis-markdown"><h1>Crash</h1><p>null deref</p></div>`,
			"Crash null deref",
		},
		{
			"unescapes entities",
			`<p>a &lt;script&gt; tag &amp; more</p>`,
			"a <script> tag & more",
		},
		{
			"collapses whitespace",
			"<p>a</p>\n\n<p>b</p>",
			"a b",
		},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := plainText(tt.in); got != tt.want {
				t.Errorf("plainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestViewPreviewTruncatesToWidth(t *testing.T) {
	var buf bytes.Buffer
	v := NewView(&buf, 20, false, "dark")

	v.RenderContent("<p>" + strings.Repeat("x", 100) + "</p>")

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "…") {
		t.Errorf("long preview not truncated: %q", line)
	}
}

func TestViewNoticesAndErrors(t *testing.T) {
	var buf bytes.Buffer
	v := NewView(&buf, 80, false, "dark")

	v.ShowNotice(analyze.NoticeInfo, "cached context")
	v.ShowNotice(analyze.NoticeWarning, "slow backend")
	v.AppendError("stream failed")

	out := buf.String()
	for _, want := range []string{"cached context", "slow backend", "stream failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestViewTTYOverwritesPreview(t *testing.T) {
	var buf bytes.Buffer
	v := NewView(&buf, 80, true, "dark")

	v.RenderContent("<p>first</p>")
	v.RenderContent("<p>second</p>")

	out := buf.String()
	if !strings.Contains(out, "\r\033[K") {
		t.Errorf("second preview did not rewrite the line: %q", out)
	}
}

func TestViewClearRemovesLiveLine(t *testing.T) {
	var buf bytes.Buffer
	v := NewView(&buf, 80, true, "dark")

	v.RenderContent("<p>partial</p>")
	v.Clear()

	if !strings.HasSuffix(buf.String(), "\r\033[K") {
		t.Errorf("Clear did not erase the live line: %q", buf.String())
	}
}

func TestRenderFinalProducesText(t *testing.T) {
	var buf bytes.Buffer
	v := NewView(&buf, 60, false, "dark")

	out, err := v.RenderFinal("# Result\n\nthe `parser` crashed")
	if err != nil {
		t.Fatalf("RenderFinal: %v", err)
	}
	if !strings.Contains(out, "Result") || !strings.Contains(out, "parser") {
		t.Errorf("rendered output missing content: %q", out)
	}
}
