// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package embed turns text into fixed-length vectors through a pluggable
// backend.
package embed

import (
	"context"
	"maps"
	"slices"
	"sync"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Embedder converts texts to vectors, one per input, in input order.
type Embedder interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	Model       string
	Dimensions  int
	Endpoint    string
	APIKey      string
	VectorsPath string
	BatchSize   int
}

// Factory builds a backend from cfg.
type Factory func(cfg Config) (Embedder, error)

// DefaultBatchSize is the number of texts sent per backend request.
const DefaultBatchSize = 64

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterBackend makes a backend available to New. Registering a name
// twice replaces the earlier factory.
func RegisterBackend(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

func init() {
	RegisterBackend("openai", newOpenAI)
	RegisterBackend("local", newLocal)
	RegisterBackend("ollama", newOllama)
	RegisterBackend("google", newGoogle)
	RegisterBackend("fasttext", newFastText)
}

// NewBackend builds the raw backend named by cfg.Backend.
func NewBackend(cfg Config) (Embedder, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, ragerr.New(ragerr.CodeEmbedBackendUnsupported,
			"unsupported embedding backend "+cfg.Backend, ragerr.FieldBackend(cfg.Backend))
	}
	return f(cfg)
}

// New builds the configured backend and wraps it in a Client whose output
// has exactly dim dimensions.
func New(cfg Config, dim int) (*Client, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(backend, dim, cfg.BatchSize)
}

// AdjustDimensions zero-pads or truncates vec to dim. The input is never
// modified.
func AdjustDimensions(vec []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
