// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// DefaultDebounce is how long a file must be quiet before it is handed on.
const DefaultDebounce = 2 * time.Second

// Watcher reports documents created or modified under a folder. Bursts of
// events for one file are coalesced into a single callback. The uploads
// and extracted_from_url subdirectories are never reported.
type Watcher struct {
	root     string
	matcher  *Matcher
	debounce time.Duration
	onChange func(ctx context.Context, path string)

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher returns a watcher for root. onChange receives absolute paths
// of files matching patterns.
func NewWatcher(root string, patterns []string, debounce time.Duration, onChange func(ctx context.Context, path string)) (*Watcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	matcher, err := NewMatcher(patterns)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeIngestWatchFailure, "resolving watch root", ragerr.FieldSource(root))
	}
	return &Watcher{
		root:     abs,
		matcher:  matcher,
		debounce: debounce,
		onChange: onChange,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx is cancelled. fsnotify is not recursive, so every
// existing subdirectory is added up front and new ones as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return ragerr.Wrap(err, ragerr.CodeIngestWatchFailure, "creating watch root", ragerr.FieldSource(w.root))
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return ragerr.Wrapf(err, ragerr.CodeIngestWatchFailure, "starting file watcher")
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	slog.Info("watching data folder", "path", w.root)

	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if w.managed(ev.Name) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.addTree(fw, ev.Name); err != nil {
				slog.Warn("watching new directory", "path", ev.Name, "error", err)
			}
		}
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || !w.matcher.Match(rel) {
		return
	}
	w.schedule(ctx, ev.Name)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		slog.Debug("document changed", "path", path)
		w.onChange(ctx, path)
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.managed(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return ragerr.Wrap(err, ragerr.CodeIngestWatchFailure, "watching directory", ragerr.FieldSource(path))
		}
		return nil
	})
}

// managed reports whether path lies in a directory the service writes to.
func (w *Watcher) managed(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return slices.Contains(managedDirs, top)
}
