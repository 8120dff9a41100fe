// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// LINE CLASSIFICATION
// =============================================================================

var (
	headingRegex   = regexp.MustCompile(`^(#+)\s+(.*)$`)
	orderedRegex   = regexp.MustCompile(`^\d+\.\s+(.*)$`)
	unorderedRegex = regexp.MustCompile(`^[•\-*]\s+(.*)$`)
	fenceRegex     = regexp.MustCompile("^```[ \t]*([A-Za-z0-9_+.-]*)")
)

// lineKind classifies a single buffer line for the block pass.
type lineKind int

const (
	lineBlank lineKind = iota
	lineFence
	lineHeading
	lineOrdered
	lineUnordered
	lineText
)

// classify determines the block-level role of a line.
// Fences win over everything; a "- item" inside a fence is code, but that
// case never reaches classify because the fence mode copies lines verbatim.
func classify(line string) lineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return lineBlank
	case strings.HasPrefix(trimmed, "```"):
		return lineFence
	case headingRegex.MatchString(trimmed):
		return lineHeading
	case orderedRegex.MatchString(trimmed):
		return lineOrdered
	case unorderedRegex.MatchString(trimmed):
		return lineUnordered
	default:
		return lineText
	}
}

// =============================================================================
// FORMATTER
// =============================================================================

// Format converts a (possibly still growing) Markdown buffer into a
// sanitized HTML fragment wrapped in a single container element.
//
// Calling Format twice on the same input yields byte-identical output, and
// a buffer that ends inside an open code fence still produces balanced
// tags: the partial code content is rendered inside an open code element
// and a later call with the closing fence re-renders the complete block.
func Format(buffer string) string {
	return format(buffer, escapeCode)
}

// format runs the line-oriented single-pass block scanner. codeRender is
// the strategy used for fenced code content (plain escape or highlighted).
func format(buffer string, codeRender codeRenderer) string {
	var out strings.Builder
	out.WriteString(`<div class="analysis-markdown">`)

	lines := strings.Split(buffer, "\n")

	var (
		inFence    bool
		fenceLang  string
		fenceLines []string

		paragraph []string
		listItems []string
		listKind  lineKind
	)

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		out.WriteString("<p>")
		out.WriteString(formatInline(strings.Join(paragraph, " ")))
		out.WriteString("</p>")
		paragraph = nil
	}

	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		tag := "ul"
		if listKind == lineOrdered {
			tag = "ol"
		}
		out.WriteString("<" + tag + ">")
		for _, item := range listItems {
			out.WriteString("<li>")
			out.WriteString(formatInline(item))
			out.WriteString("</li>")
		}
		out.WriteString("</" + tag + ">")
		listItems = nil
	}

	flushFence := func() {
		out.WriteString(codeRender(fenceLang, strings.Join(fenceLines, "\n")))
		fenceLines = nil
		fenceLang = ""
	}

	for _, line := range lines {
		if inFence {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inFence = false
				flushFence()
				continue
			}
			fenceLines = append(fenceLines, line)
			continue
		}

		trimmed := strings.TrimSpace(line)

		switch classify(line) {
		case lineFence:
			flushParagraph()
			flushList()
			inFence = true
			if m := fenceRegex.FindStringSubmatch(trimmed); m != nil {
				fenceLang = m[1]
			}

		case lineHeading:
			flushParagraph()
			flushList()
			m := headingRegex.FindStringSubmatch(trimmed)
			level := len(m[1])
			if level > 6 {
				level = 6
			}
			tag := "h" + strconv.Itoa(level)
			out.WriteString("<" + tag + ">")
			out.WriteString(formatInline(m[2]))
			out.WriteString("</" + tag + ">")

		case lineOrdered:
			flushParagraph()
			if listKind != lineOrdered {
				flushList()
			}
			listKind = lineOrdered
			// The numeric prefix is discarded; <ol> renumbers automatically.
			listItems = append(listItems, orderedRegex.FindStringSubmatch(trimmed)[1])

		case lineUnordered:
			flushParagraph()
			if listKind != lineUnordered {
				flushList()
			}
			listKind = lineUnordered
			listItems = append(listItems, unorderedRegex.FindStringSubmatch(trimmed)[1])

		case lineBlank:
			flushParagraph()
			flushList()

		case lineText:
			flushList()
			paragraph = append(paragraph, trimmed)
		}
	}

	// End of buffer: flush whatever is open. An unterminated fence is
	// expected mid-stream and still renders as a balanced code block.
	if inFence {
		flushFence()
	}
	flushParagraph()
	flushList()

	out.WriteString("</div>")
	return out.String()
}

// =============================================================================
// CODE RENDERING
// =============================================================================

// codeRenderer turns raw fenced-code content into an HTML code block.
type codeRenderer func(lang, code string) string

// escapeCode renders a code block with escaping only.
func escapeCode(lang, code string) string {
	var sb strings.Builder
	sb.WriteString(`<pre><code`)
	if lang != "" {
		sb.WriteString(` class="language-` + html.EscapeString(lang) + `"`)
	}
	sb.WriteString(">")
	sb.WriteString(html.EscapeString(code))
	sb.WriteString("</code></pre>")
	return sb.String()
}

// =============================================================================
// INLINE PASS
// =============================================================================

var (
	inlineCodeRegex = regexp.MustCompile("`([^`]+)`")
	boldRegex       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkRegex       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

// formatInline applies inline substitutions to heading, list-item, and
// paragraph text. Never applied to code-block contents.
//
// Order matters: escape first, then code spans, then bold before italic.
// Running bold first consumes every ** pair, so the italic pass can never
// reinterpret half of a bold marker. Unmatched markers stay literal text.
func formatInline(text string) string {
	text = html.EscapeString(text)
	text = inlineCodeRegex.ReplaceAllString(text, "<code>$1</code>")
	text = boldRegex.ReplaceAllString(text, "<strong>$1</strong>")
	text = italicize(text)
	text = linkRegex.ReplaceAllString(text, `<a href="$2" target="_blank" rel="noopener noreferrer">$1</a>`)
	return text
}

// italicize wraps text between pairs of lone asterisks in <em>. A star that
// is part of a longer run (the leftovers of an unpaired **) never opens or
// closes a span, and spans never contain a star, so unbalanced markers
// survive as literal text.
func italicize(text string) string {
	var singles []int
	for i := 0; i < len(text); i++ {
		if text[i] != '*' {
			continue
		}
		j := i + 1
		for j < len(text) && text[j] == '*' {
			j++
		}
		if j-i == 1 {
			singles = append(singles, i)
		}
		i = j - 1
	}

	var sb strings.Builder
	last := 0
	for k := 0; k+1 < len(singles); {
		open, close := singles[k], singles[k+1]
		inner := text[open+1 : close]
		if inner == "" || strings.ContainsRune(inner, '*') {
			k++
			continue
		}
		sb.WriteString(text[last:open])
		sb.WriteString("<em>")
		sb.WriteString(inner)
		sb.WriteString("</em>")
		last = close + 1
		k += 2
	}
	sb.WriteString(text[last:])
	return sb.String()
}
