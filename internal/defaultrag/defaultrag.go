// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package defaultrag persists the name of the namespace used when a query
// does not name one.
package defaultrag

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Registry is a file-backed default-RAG pointer. The file is re-read on
// every Get so edits made by other processes are observed.
type Registry struct {
	mu   sync.RWMutex
	path string
}

func New(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the backing file.
func (r *Registry) Path() string {
	return r.path
}

// Get returns the current default. ok is false when the file is missing
// or holds only whitespace.
func (r *Registry) Get() (name string, ok bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read()
}

func (r *Registry) read() (string, bool, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ragerr.Wrapf(err, ragerr.CodeDefaultRAGReadFailure, "reading default rag file %s", r.path)
	}

	name := strings.TrimSpace(string(data))
	return name, name != "", nil
}

// Set replaces the default. The write goes through a temp file and rename
// so readers never observe a partial name.
func (r *Registry) Set(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ragerr.New(ragerr.CodeDefaultRAGInvalidInput, "default rag name must not be empty")
	}
	if strings.ContainsAny(name, "\r\n") {
		return ragerr.New(ragerr.CodeDefaultRAGInvalidInput, "default rag name must be a single line")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "creating %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".default_rag-*")
	if err != nil {
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(name); err != nil {
		_ = tmp.Close()
		cleanup()
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "writing default rag")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "syncing default rag")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "closing default rag temp file")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "setting default rag permissions")
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		cleanup()
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "replacing %s", r.path)
	}
	return nil
}

// Clear unsets the default. Clearing an unset default is a no-op.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove()
}

func (r *Registry) remove() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ragerr.Wrapf(err, ragerr.CodeDefaultRAGWriteFailure, "removing %s", r.path)
	}
	return nil
}

// ClearIf unsets the default only when it currently equals name, and
// reports whether it did.
func (r *Registry) ClearIf(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok, err := r.read()
	if err != nil || !ok || current != name {
		return false, err
	}
	return true, r.remove()
}
