// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markdown converts streaming AI answer text into sanitized HTML.
//
// The formatter is built for incremental use: the analysis panel calls
// Format repeatedly as the response buffer grows, so the function must be
// pure, deterministic, and tolerant of constructs that have not finished
// arriving yet (most importantly an unterminated code fence). All literal
// text is HTML-escaped before any markup substitution is applied, so
// model-supplied angle brackets can never inject structural HTML.
//
// # Key Functions
//
//   - Format: raw Markdown buffer -> sanitized HTML fragment
//   - FormatHighlighted: same pipeline with chroma syntax highlighting
//     applied to fenced code blocks
//
// # Supported Markdown
//
// Fenced code blocks with an optional language tag, ATX headings (levels
// clamped to 1-6), ordered and unordered lists, paragraphs, and the inline
// constructs `code`, **bold**, *italic*, and [label](url).
package markdown
