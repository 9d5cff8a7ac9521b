// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package rag ties ingestion, embedding, vector search and generation
// together into named, queryable document collections.
package rag

import (
	"context"

	"github.com/ragd-dev/ragd/internal/chunk"
	"github.com/ragd-dev/ragd/internal/defaultrag"
	"github.com/ragd-dev/ragd/internal/ingest"
	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/vector"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Embedder produces vectors sized for the vector store.
type Embedder interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Defaults for retrieval and ingestion when Options leaves a field zero.
const (
	DefaultTopK            = 5
	DefaultPerNamespaceK   = 10
	DefaultMaxContextChars = 12000
	DefaultMetadataLimit   = 40960
	DefaultSystemPrompt    = "You answer questions using only the provided context. " +
		"If the context does not contain the answer, say you don't know."

	contextSeparator = "\n\n---\n\n"
)

// RetrievalOptions tunes ranking and context assembly.
type RetrievalOptions struct {
	TopK            int
	PerNamespaceK   int
	Threshold       float32
	MaxContextChars int
}

// GenerationOptions tunes the LLM call made by Ask.
type GenerationOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  *float32
}

// Options are the collaborators and settings of a Service. Store, Embedder
// and Chunker are required.
type Options struct {
	Store      vector.Store
	Embedder   Embedder
	Chunker    *chunk.Chunker
	Providers  *provider.Registry
	Defaults   *defaultrag.Registry
	Fetcher    *ingest.Fetcher
	DataFolder string
	Patterns   []string

	// MetadataLimit caps the JSON size of one record's metadata; larger
	// content is split across several records sharing a vector.
	MetadataLimit int

	Retrieval  RetrievalOptions
	Generation GenerationOptions
}

// Service is the RAG orchestrator behind the HTTP API and the CLI.
type Service struct {
	store      vector.Store
	embedder   Embedder
	chunker    *chunk.Chunker
	providers  *provider.Registry
	defaults   *defaultrag.Registry
	fetcher    *ingest.Fetcher
	dataFolder string
	patterns   []string
	metaLimit  int
	retrieval  RetrievalOptions
	generation GenerationOptions
}

// New validates opts and fills defaults.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Store == nil:
		return nil, ragerr.New(ragerr.CodeConfigValidateInvalidValue, "rag: vector store is required")
	case opts.Embedder == nil:
		return nil, ragerr.New(ragerr.CodeConfigValidateInvalidValue, "rag: embedder is required")
	case opts.Chunker == nil:
		return nil, ragerr.New(ragerr.CodeConfigValidateInvalidValue, "rag: chunker is required")
	}
	if dim := opts.Embedder.Dimensions(); dim != opts.Store.Dimensions() {
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue,
			"rag: embedder produces %d dimensions, vector store expects %d", dim, opts.Store.Dimensions())
	}

	s := &Service{
		store:      opts.Store,
		embedder:   opts.Embedder,
		chunker:    opts.Chunker,
		providers:  opts.Providers,
		defaults:   opts.Defaults,
		fetcher:    opts.Fetcher,
		dataFolder: opts.DataFolder,
		patterns:   opts.Patterns,
		metaLimit:  opts.MetadataLimit,
		retrieval:  opts.Retrieval,
		generation: opts.Generation,
	}
	if s.fetcher == nil {
		s.fetcher = ingest.NewFetcher(ingest.DefaultURLTimeout, "")
	}
	if len(s.patterns) == 0 {
		s.patterns = ingest.DefaultPatterns
	}
	if s.metaLimit <= 0 {
		s.metaLimit = DefaultMetadataLimit
	}
	if s.retrieval.TopK <= 0 {
		s.retrieval.TopK = DefaultTopK
	}
	if s.retrieval.PerNamespaceK <= 0 {
		s.retrieval.PerNamespaceK = DefaultPerNamespaceK
	}
	if s.retrieval.MaxContextChars <= 0 {
		s.retrieval.MaxContextChars = DefaultMaxContextChars
	}
	if s.generation.SystemPrompt == "" {
		s.generation.SystemPrompt = DefaultSystemPrompt
	}
	return s, nil
}

// Store exposes the underlying vector store.
func (s *Service) Store() vector.Store { return s.store }

// EmbedderName names the active embedding backend.
func (s *Service) EmbedderName() string { return s.embedder.Name() }

// DataFolder is where source documents and uploads live.
func (s *Service) DataFolder() string { return s.dataFolder }

// DefaultRAG returns the current default namespace.
func (s *Service) DefaultRAG() (string, bool, error) {
	if s.defaults == nil {
		return "", false, nil
	}
	name, ok, err := s.defaults.Get()
	if err != nil {
		return "", false, err
	}
	return name, ok, nil
}

// SetDefaultRAG points un-scoped queries at name. The namespace need not
// exist yet.
func (s *Service) SetDefaultRAG(name string) error {
	if s.defaults == nil {
		return ragerr.New(ragerr.CodeDefaultRAGWriteFailure, "default RAG registry is not configured")
	}
	return s.defaults.Set(name)
}

func checkName(name string) error {
	if !vector.ValidNamespace(name) {
		return ragerr.New(ragerr.CodeRAGInvalidInput, "rag_name is required and must be a single line", ragerr.FieldNamespace(name))
	}
	return nil
}
