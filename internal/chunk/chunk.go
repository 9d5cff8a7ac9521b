// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package chunk splits extracted text into word-bounded segments.
package chunk

import (
	"strings"
	"unicode/utf8"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Mode selects the unit the chunk limit is measured in.
type Mode string

const (
	ModeWords Mode = "words"
	ModeBytes Mode = "bytes"
)

// Chunk is one segment of a source document.
type Chunk struct {
	Index   int
	Content string
}

// Chunker splits text on whitespace without ever splitting a word.
type Chunker struct {
	mode  Mode
	limit int
}

// New returns a Chunker that keeps each chunk within limit words or bytes.
func New(mode Mode, limit int) (*Chunker, error) {
	if mode != ModeWords && mode != ModeBytes {
		return nil, ragerr.Errorf(ragerr.CodeChunkConfigInvalid, "unknown chunk mode %q", mode)
	}
	if limit <= 0 {
		return nil, ragerr.Errorf(ragerr.CodeChunkConfigInvalid, "chunk limit must be greater than 0, got %d", limit)
	}
	return &Chunker{mode: mode, limit: limit}, nil
}

func (c *Chunker) Mode() Mode { return c.mode }
func (c *Chunker) Limit() int { return c.limit }

// Split returns the chunks of text in order. Whitespace-only text yields
// no chunks. In bytes mode a word longer than the limit becomes a chunk
// of its own.
func (c *Chunker) Split(text string) []Chunk {
	var (
		chunks []Chunk
		buffer []string
		size   int
	)

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Content: strings.Join(buffer, " ")})
		buffer = buffer[:0]
		size = 0
	}

	for _, word := range strings.Fields(text) {
		switch c.mode {
		case ModeWords:
			if len(buffer) == c.limit {
				flush()
			}
		case ModeBytes:
			grown := size + len(word)
			if len(buffer) > 0 {
				grown++ // joining space
			}
			if len(buffer) > 0 && grown > c.limit {
				flush()
			}
		}

		if len(buffer) > 0 {
			size++
		}
		size += len(word)
		buffer = append(buffer, word)
	}
	flush()

	return chunks
}

// SplitBytes cuts s into pieces of at most limit bytes, only at UTF-8 rune
// boundaries. A limit smaller than a rune still advances by one rune.
func SplitBytes(s string, limit int) []string {
	if s == "" {
		return nil
	}
	if limit <= 0 || len(s) <= limit {
		return []string{s}
	}

	var pieces []string
	for len(s) > 0 {
		if len(s) <= limit {
			pieces = append(pieces, s)
			break
		}

		end := limit
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		if end == 0 {
			_, end = utf8.DecodeRuneInString(s)
		}

		pieces = append(pieces, s[:end])
		s = s[end:]
	}
	return pieces
}
