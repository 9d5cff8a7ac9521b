// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"

	"github.com/ragd-dev/ragd/internal/rag"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

// RAGService is the retrieval and lifecycle surface the routes call.
// *rag.Service implements it.
type RAGService interface {
	Ask(ctx context.Context, req rag.AskRequest) (rag.Answer, error)
	AskStream(ctx context.Context, req rag.AskRequest) (*rag.AnswerStream, error)
	Retrieve(ctx context.Context, req rag.RetrieveRequest) (rag.Retrieval, error)

	CreateRAG(ctx context.Context, name, folder string) (rag.CreateResult, error)
	ListRAGs(ctx context.Context) ([]rag.RAGInfo, error)
	Summary(ctx context.Context, name string) (rag.Summary, error)
	ListFiles(ctx context.Context, name string) ([]string, error)
	DeleteRAG(ctx context.Context, name string) error
	RemoveSource(ctx context.Context, name, fileName string) (int, error)
	RemoveVectors(ctx context.Context, name string, ids []string) error

	IngestFile(ctx context.Context, ns, path string) (rag.IngestResult, error)
	IngestText(ctx context.Context, ns, source, text string) (rag.IngestResult, error)
	IngestURL(ctx context.Context, ns, rawURL string) (rag.IngestResult, error)

	DefaultRAG() (string, bool, error)
	SetDefaultRAG(name string) error
	DataFolder() string
}

// HealthSource reports per-backend health for the status endpoint.
type HealthSource interface {
	HealthMetrics() map[string]health.Metrics
}

// Runner is a background job that lives as long as the server.
type Runner interface {
	Run(ctx context.Context) error
}

// BackendInfo names the configured backends for the status endpoint.
type BackendInfo struct {
	VectorBackend string
	Embedder      string
}

// Services holds dependencies injected into route handlers.
type Services struct {
	rag       RAGService
	providers HealthSource    // optional
	embedder  health.Reporter // optional
	watcher   Runner          // optional
	info      BackendInfo
}

// ServicesOption configures optional dependencies.
type ServicesOption func(*Services)

// WithProviders reports LLM provider health on the status endpoint.
func WithProviders(h HealthSource) ServicesOption {
	return func(s *Services) { s.providers = h }
}

// WithEmbedderHealth reports embedding backend health on the status endpoint.
func WithEmbedderHealth(h health.Reporter) ServicesOption {
	return func(s *Services) { s.embedder = h }
}

// WithWatcher runs w alongside the HTTP server.
func WithWatcher(w Runner) ServicesOption {
	return func(s *Services) { s.watcher = w }
}

// NewServices validates the required dependencies.
func NewServices(r RAGService, info BackendInfo, opts ...ServicesOption) (*Services, error) {
	if r == nil {
		return nil, ragerr.New(ragerr.CodeServerConfigInvalid, "rag service is required")
	}
	s := &Services{rag: r, info: info}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RAG returns the rag service.
func (s *Services) RAG() RAGService {
	return s.rag
}
