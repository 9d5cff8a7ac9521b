// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package vector

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store with brute-force cosine search.
// Contents are lost on Close.
type MemoryStore struct {
	mu         sync.RWMutex
	dimensions int
	namespaces map[string]*memNamespace
}

type memNamespace struct {
	records map[string]Record
	order   []string // insertion order, for Sample
}

// NewMemoryStore returns an empty store for vectors of dim values.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dimensions: dim, namespaces: map[string]*memNamespace{}}
}

func (m *MemoryStore) Dimensions() int { return m.dimensions }

func (m *MemoryStore) EnsureNamespace(_ context.Context, ns string) error {
	if err := CheckNamespace(ns); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(ns)
	return nil
}

func (m *MemoryStore) ensure(ns string) *memNamespace {
	n, ok := m.namespaces[ns]
	if !ok {
		n = &memNamespace{records: map[string]Record{}}
		m.namespaces[ns] = n
	}
	return n
}

func (m *MemoryStore) Upsert(_ context.Context, ns string, records []Record) error {
	if err := CheckNamespace(ns); err != nil {
		return err
	}
	if err := CheckRecords(ns, records, m.dimensions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.ensure(ns)
	for _, r := range records {
		if _, exists := n.records[r.ID]; !exists {
			n.order = append(n.order, r.ID)
		}
		n.records[r.ID] = cloneRecord(r)
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, ns string, vec []float32, k int) ([]Match, error) {
	if err := CheckQuery(ns, vec, m.dimensions); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return nil, ErrNamespaceNotFound(ns)
	}

	matches := make([]Match, 0, len(n.records))
	for _, r := range n.records {
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    Cosine(vec, r.Values),
			Values:   slices.Clone(r.Values),
			Metadata: maps.Clone(r.Metadata),
		})
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryStore) ListNamespaces(_ context.Context) ([]NamespaceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]NamespaceInfo, 0, len(m.namespaces))
	for _, name := range slices.Sorted(maps.Keys(m.namespaces)) {
		out = append(out, NamespaceInfo{Name: name, Vectors: len(m.namespaces[name].records), Dimensions: m.dimensions})
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context, ns string) (NamespaceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return NamespaceInfo{}, ErrNamespaceNotFound(ns)
	}
	return NamespaceInfo{Name: ns, Vectors: len(n.records), Dimensions: m.dimensions}, nil
}

func (m *MemoryStore) Sample(_ context.Context, ns string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return nil, ErrNamespaceNotFound(ns)
	}

	if limit <= 0 {
		return []Record{}, nil
	}
	out := make([]Record, 0, min(limit, len(n.order)))
	for _, id := range n.order {
		if len(out) == limit {
			break
		}
		out = append(out, cloneRecord(n.records[id]))
	}
	return out, nil
}

func (m *MemoryStore) Sources(_ context.Context, ns string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return nil, ErrNamespaceNotFound(ns)
	}

	seen := map[string]struct{}{}
	for _, r := range n.records {
		if f := r.FileName(); f != "" {
			seen[f] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (m *MemoryStore) DeleteIDs(_ context.Context, ns string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return ErrNamespaceNotFound(ns)
	}
	for _, id := range ids {
		n.remove(id)
	}
	return nil
}

func (m *MemoryStore) DeleteSource(_ context.Context, ns string, source string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return 0, ErrNamespaceNotFound(ns)
	}

	var doomed []string
	for id, r := range n.records {
		if r.FileName() == source {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		n.remove(id)
	}
	return len(doomed), nil
}

func (m *MemoryStore) DeleteNamespace(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[ns]; !ok {
		return ErrNamespaceNotFound(ns)
	}
	delete(m.namespaces, ns)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.namespaces = map[string]*memNamespace{}
	m.mu.Unlock()
	return nil
}

func (n *memNamespace) remove(id string) {
	if _, ok := n.records[id]; !ok {
		return
	}
	delete(n.records, id)
	n.order = slices.DeleteFunc(n.order, func(s string) bool { return s == id })
}

func cloneRecord(r Record) Record {
	return Record{ID: r.ID, Values: slices.Clone(r.Values), Metadata: maps.Clone(r.Metadata)}
}
