// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
)

// =============================================================================
// STREAM READER
// =============================================================================

// MaxLineSize caps a single event line (64KB). A backend that emits a
// larger line is misbehaving; the oversized line is dropped like a
// malformed one.
const MaxLineSize = 64 * 1024

// Reader decodes "data: {json}" lines from a streamed response body.
// It is a lazy, finite, non-restartable sequence: once Next returns io.EOF
// the reader is exhausted.
type Reader struct {
	reader *bufio.Reader
	done   bool
}

// NewReader creates a Reader over an io.Reader, typically a streaming
// HTTP response body.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		reader: bufio.NewReader(r),
	}
}

// Next returns the next decoded event, or io.EOF when the underlying
// transport completes. Lines without the data prefix and lines carrying
// malformed JSON are skipped; a line split across network chunks is
// buffered until the terminating newline (or EOF) arrives.
func (r *Reader) Next() (*Event, error) {
	if r.done {
		return nil, io.EOF
	}

	for {
		line, err := r.reader.ReadBytes('\n')
		if err != nil {
			r.done = true
			if err == io.EOF && len(line) > 0 {
				// Final line without a trailing newline still counts.
				if ev := decodeLine(line); ev != nil {
					return ev, nil
				}
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}

		if len(line) > MaxLineSize {
			log.Printf("sse: dropping oversized line (%d bytes)", len(line))
			continue
		}

		if ev := decodeLine(line); ev != nil {
			return ev, nil
		}
	}
}

// Stream reads events until EOF, cancellation, or a terminal event,
// invoking fn for each decoded event. After cancellation the handler is
// never invoked again. Returns nil on EOF or terminal event, ctx.Err() on
// cancellation.
func (r *Reader) Stream(ctx context.Context, fn func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		// A cancel can race the read that just completed; drop the event
		// rather than resurrect a stopped session.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fn(*ev)

		if ev.IsTerminal() {
			return nil
		}
	}
}

// =============================================================================
// LINE DECODING
// =============================================================================

var dataPrefix = []byte("data:")

// decodeLine parses one stream line into an Event. Returns nil for blank
// lines, comment/other fields, and malformed JSON.
func decodeLine(line []byte) *Event {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil
	}

	if !bytes.HasPrefix(line, dataPrefix) {
		return nil
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return nil
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("sse: skipping malformed event line: %v", err)
		return nil
	}
	return &ev
}
