// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"regexp"
	"strings"
)

var (
	// Footers like "Page 3 | 12", tolerating letter-spaced extraction.
	pageMarker = regexp.MustCompile(`P\s*a\s*g\s*e\s*\d+\s*\|\s*\d+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// CleanText strips page markers and collapses whitespace.
func CleanText(s string) string {
	s = pageMarker.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
