// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ragd-dev/ragd/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestWatcher_DebouncesAndFilters(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}

	w, err := ingest.NewWatcher(dir, nil, 100*time.Millisecond, rec.add)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)

	doc := filepath.Join(dir, "manual.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(doc, []byte("revision"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.png"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, []string{doc}, rec.snapshot())
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}

	w, err := ingest.NewWatcher(dir, nil, 50*time.Millisecond, rec.add)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	sub := filepath.Join(dir, "reports")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)

	doc := filepath.Join(sub, "paper.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF"), 0o644))

	assert.Eventually(t, func() bool {
		paths := rec.snapshot()
		return len(paths) == 1 && paths[0] == doc
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresManagedDirs(t *testing.T) {
	dir := t.TempDir()
	uploads := filepath.Join(dir, ingest.UploadsDir, "3f1c")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	rec := &recorder{}

	w, err := ingest.NewWatcher(dir, nil, 50*time.Millisecond, rec.add)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(uploads, "paper.pdf"), []byte("%PDF"), 0o644))
	_, err = ingest.SaveExtracted(dir, "https://docs.example.com/guide", "saved page text")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	doc := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(doc, []byte("user document"), 0o644))

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, []string{doc}, rec.snapshot())
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	w, err := ingest.NewWatcher(t.TempDir(), nil, 0, func(context.Context, string) {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
