// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package vector stores embeddings in named namespaces and answers
// nearest-neighbour queries over them.
package vector

import (
	"context"
	"math"
	"strings"
)

// Store is a namespaced vector index. Every vector in a store has
// Dimensions() values.
type Store interface {
	EnsureNamespace(ctx context.Context, ns string) error
	Upsert(ctx context.Context, ns string, records []Record) error
	Query(ctx context.Context, ns string, vec []float32, k int) ([]Match, error)
	ListNamespaces(ctx context.Context) ([]NamespaceInfo, error)
	Stats(ctx context.Context, ns string) (NamespaceInfo, error)
	Sample(ctx context.Context, ns string, n int) ([]Record, error)
	Sources(ctx context.Context, ns string) ([]string, error)
	DeleteIDs(ctx context.Context, ns string, ids []string) error
	DeleteSource(ctx context.Context, ns string, source string) (int, error)
	DeleteNamespace(ctx context.Context, ns string) error
	Dimensions() int
	Close() error
}

// Record is a stored vector. Upserting a record with an existing ID in the
// same namespace replaces it.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// FileName returns the file_name metadata value, or "".
func (r Record) FileName() string {
	return MetadataString(r.Metadata, MetaFileName)
}

// Match is a query hit. Score is cosine similarity; higher is closer.
type Match struct {
	ID       string
	Score    float32
	Values   []float32
	Metadata map[string]any
}

// NamespaceInfo describes one namespace.
type NamespaceInfo struct {
	Name       string `json:"name"`
	Vectors    int    `json:"total_vectors"`
	Dimensions int    `json:"dimensions"`
}

// Metadata keys the stores index or filter on.
const (
	MetaFileName = "file_name"
	MetaContent  = "content"
)

// MetadataString reads a string value from metadata.
func MetadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	s, _ := md[key].(string)
	return s
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// ValidNamespace reports whether ns can name a namespace.
func ValidNamespace(ns string) bool {
	return strings.TrimSpace(ns) != "" && !strings.ContainsAny(ns, "\x00\n\r")
}
