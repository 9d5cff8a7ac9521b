// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// DefaultPatterns matches every document ExtractFile can read.
var DefaultPatterns = []string{"**/*.{pdf,txt}"}

// ListDocuments returns the sorted absolute paths of files under folder
// whose slash-separated relative path matches any pattern. Matching is
// case-insensitive so "Report.PDF" is found by "**/*.pdf".
func ListDocuments(folder string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	matcher, err := NewMatcher(patterns)
	if err != nil {
		return nil, err
	}

	var found []string
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}
		if matcher.Match(rel) {
			found = append(found, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ragerr.Wrap(err, ragerr.CodeIngestListInvalid, "document folder does not exist", ragerr.FieldSource(folder))
	}
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeIngestListFailure, "listing documents", ragerr.FieldSource(folder))
	}

	slices.Sort(found)
	return found, nil
}

// Matcher tests relative paths against a set of doublestar patterns.
type Matcher struct {
	patterns []string
}

func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.ToLower(filepath.ToSlash(p))
		if !doublestar.ValidatePattern(p) {
			return nil, ragerr.New(ragerr.CodeIngestListInvalid, "invalid glob pattern "+p)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether rel, relative to the watched root, matches.
func (m *Matcher) Match(rel string) bool {
	name := strings.ToLower(filepath.ToSlash(rel))
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Tree maps each directory under root (relative, "." for root) to the
// sorted names of the files it directly contains. Hidden entries are
// skipped.
func Tree(root string) (map[string][]string, error) {
	tree := map[string][]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirRel, _ := filepath.Rel(root, path)
			if _, ok := tree[filepath.ToSlash(dirRel)]; !ok {
				tree[filepath.ToSlash(dirRel)] = []string{}
			}
			return nil
		}
		key := filepath.ToSlash(rel)
		tree[key] = append(tree[key], d.Name())
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeIngestListFailure, "walking data folder", ragerr.FieldSource(root))
	}
	for k := range tree {
		slices.Sort(tree[k])
	}
	return tree, nil
}

// EnsureDir creates dir if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ragerr.Wrap(err, ragerr.CodeIngestSaveFailure, "creating directory", ragerr.FieldSource(dir))
	}
	return nil
}
