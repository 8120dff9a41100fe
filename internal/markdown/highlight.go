// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"html"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// =============================================================================
// HIGHLIGHTED FORMATTER
// =============================================================================

// FormatHighlighted is Format with chroma syntax highlighting applied to
// fenced code blocks. The block and inline semantics are identical to
// Format; only the code-block renderer differs. Highlighting failures fall
// back to the plain escaped rendering, so this variant keeps the
// never-throws guarantee of the base formatter.
func FormatHighlighted(buffer string) string {
	return format(buffer, highlightCode)
}

// highlightCode renders a code block through chroma's HTML formatter with
// inline styles, so the output needs no accompanying stylesheet.
func highlightCode(lang, code string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		return escapeCode(lang, code)
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return escapeCode(lang, code)
	}

	formatter := chromahtml.New(
		chromahtml.WithClasses(false),
		chromahtml.PreventSurroundingPre(true),
	)

	var sb strings.Builder
	sb.WriteString(`<pre><code`)
	if lang != "" {
		sb.WriteString(` class="language-` + html.EscapeString(lang) + `"`)
	}
	sb.WriteString(">")

	var highlighted strings.Builder
	if err := formatter.Format(&highlighted, style, iterator); err != nil {
		return escapeCode(lang, code)
	}
	sb.WriteString(highlighted.String())
	sb.WriteString("</code></pre>")
	return sb.String()
}
