// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package vector

import (
	"maps"
	"slices"
	"sync"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// DefaultDimensions matches OpenAI text-embedding-3-small.
const DefaultDimensions = 1536

// Config selects a backend and carries the settings every backend may need.
type Config struct {
	Backend    string
	Dimensions int
	SQLitePath string
	Milvus     MilvusConfig
}

// MilvusConfig addresses a Milvus or Zilliz Cloud deployment.
type MilvusConfig struct {
	Address    string
	APIKey     string
	Collection string
	DBName     string
}

// Factory opens a store for cfg. cfg.Dimensions is always set.
type Factory func(cfg Config) (Store, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named backend. Backend
// packages call this from init().
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg Config) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// New opens the configured store.
func New(cfg Config) (Store, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, ragerr.New(ragerr.CodeVectorBackendUnsupported,
			"unsupported vector backend "+backend, ragerr.FieldBackend(backend))
	}

	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	cfg.Backend = backend
	return factory(cfg)
}

func init() {
	RegisterBackend("memory", func(cfg Config) (Store, error) {
		return NewMemoryStore(cfg.Dimensions), nil
	})
}
