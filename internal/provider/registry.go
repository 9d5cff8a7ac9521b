// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

// Registry manages provider registration, lookup, and routing with
// failover. It implements the Router interface.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string   // "provider/model" format
	failover   []string // ordered list of "provider/model" refs
}

// Compile-time check that Registry implements Router.
var _ Router = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// RegisterProvider adds a provider to the registry (Router interface).
func (r *Registry) RegisterProvider(name string, p Provider) error {
	r.Register(name, p)
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, ragerr.New(ragerr.CodeProviderNotFound, "provider not found: "+name, ragerr.FieldProvider(name))
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.providers))
}

// Len reports how many providers are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// SetDefault sets the "provider/model" reference used when a request names
// no model. The provider must already be registered.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// Default returns the default "provider/model" reference, or "".
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultRef
}

// SetFailover sets the ordered failover chain of "provider/model" refs.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked(ref); err != nil {
			return err
		}
	}
	r.failover = slices.Clone(chain)
	return nil
}

// MaxAttempts returns 1 (primary) + len(failover chain).
func (r *Registry) MaxAttempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return 1 + len(r.failover)
}

// Route selects a provider for modelName. An empty name (or "default")
// uses the default ref.
func (r *Registry) Route(ctx context.Context, modelName string) (Provider, string, error) {
	return r.RouteExcluding(ctx, modelName, nil)
}

// RouteExcluding is like Route but skips the named providers, so a
// failover sequence progresses past providers that already failed even
// when they do not track their own health.
func (r *Registry) RouteExcluding(ctx context.Context, modelName string, exclude []string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, err := r.resolveRef(modelName)
	if err != nil {
		return nil, "", err
	}
	if ref == "" {
		return nil, "", ragerr.New(ragerr.CodeProviderNoDefault, "no default provider configured")
	}

	candidates := append([]string{ref}, r.failover...)
	for _, c := range candidates {
		provName, _ := parseRef(c)
		if slices.Contains(exclude, provName) {
			continue
		}
		if p, model, err := r.tryRef(ctx, c); err == nil {
			return p, model, nil
		}
	}

	return nil, "", ragerr.New(ragerr.CodeProviderAllUnavailable, "all providers unavailable: no healthy provider found")
}

// HealthMetrics snapshots every registered provider that tracks health.
func (r *Registry) HealthMetrics() map[string]health.Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.Metrics, len(r.providers))
	for name, p := range r.providers {
		if hr, ok := p.(health.Reporter); ok {
			out[name] = hr.HealthMetrics()
		}
	}
	return out
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return ragerr.Join(errs...)
	}
	return nil
}

// checkRefLocked verifies the provider part of ref is registered.
// Caller must hold r.mu.
func (r *Registry) checkRefLocked(ref string) error {
	provName, model := parseRef(ref)
	if model == "" {
		return ragerr.Errorf(ragerr.CodeProviderInvalidModelRef, "model ref %q must use provider/model format", ref)
	}
	if _, ok := r.providers[provName]; !ok {
		return ragerr.New(ragerr.CodeProviderNotFound, "provider not registered: "+provName, ragerr.FieldProvider(provName))
	}
	return nil
}

// resolveRef determines which "provider/model" ref to use.
// Caller must hold r.mu (at least RLock).
func (r *Registry) resolveRef(modelName string) (string, error) {
	if modelName == "" || modelName == "default" {
		return r.defaultRef, nil
	}
	if !strings.Contains(modelName, "/") {
		return "", ragerr.Errorf(ragerr.CodeProviderInvalidModelRef,
			"model name %q must use provider/model format", modelName)
	}
	return modelName, nil
}

// tryRef parses a "provider/model" ref, looks up the provider, and checks
// availability. Caller must hold r.mu (at least RLock).
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	providerName, model := parseRef(ref)

	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", ragerr.New(ragerr.CodeProviderNotFound, "provider not found: "+providerName, ragerr.FieldProvider(providerName))
	}
	if !p.Available(ctx) {
		return nil, "", ragerr.New(ragerr.CodeProviderUpstreamFailure, "provider unavailable: "+providerName, ragerr.FieldProvider(providerName))
	}
	return p, model, nil
}

// ParseRef splits a "provider/model" reference on the first "/".
func ParseRef(ref string) (providerName, model string) {
	return parseRef(ref)
}

func parseRef(ref string) (providerName, model string) {
	providerName, model, _ = strings.Cut(ref, "/")
	return providerName, model
}
