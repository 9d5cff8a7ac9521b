// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ragd-dev/ragd/internal/chunk"
	"github.com/ragd-dev/ragd/internal/defaultrag"
	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/rag"
	"github.com/ragd-dev/ragd/internal/vector"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testDim = 4

// keywordEmbedder counts keywords into fixed axes: cat, dog, paris, other.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *keywordEmbedder) Name() string    { return "keyword" }
func (e *keywordEmbedder) Dimensions() int { return testDim }

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, testDim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			switch w {
			case "cat":
				v[0]++
			case "dog":
				v[1]++
			case "paris":
				v[2]++
			default:
				v[3]++
			}
		}
		out[i] = v
	}
	return out, nil
}

// flakyStore fails queries for selected namespaces.
type flakyStore struct {
	*vector.MemoryStore
	fail map[string]error
}

func (f *flakyStore) Query(ctx context.Context, ns string, vec []float32, k int) ([]vector.Match, error) {
	if err, ok := f.fail[ns]; ok {
		return nil, err
	}
	return f.MemoryStore.Query(ctx, ns, vec, k)
}

// echoProvider answers every chat with a fixed reply and records requests.
type echoProvider struct {
	mu       sync.Mutex
	reply    string
	requests []provider.ChatRequest
}

func (p *echoProvider) Name() string                   { return "fake" }
func (p *echoProvider) Available(context.Context) bool { return true }
func (p *echoProvider) Close() error                   { return nil }

func (p *echoProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *echoProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: "fake"}, nil
}

func (p *echoProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	ch := make(chan provider.ChatEvent, 3)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: p.reply}
	ch <- provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 50, OutputTokens: 7}}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

func (p *echoProvider) lastRequest() provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

type fixture struct {
	svc      *rag.Service
	store    *flakyStore
	embedder *keywordEmbedder
	llm      *echoProvider
	defaults *defaultrag.Registry
	dataDir  string
}

type fixtureOption func(*rag.Options)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	chunker, err := chunk.New(chunk.ModeWords, 5)
	require.NoError(t, err)

	f := &fixture{
		store:    &flakyStore{MemoryStore: vector.NewMemoryStore(testDim), fail: map[string]error{}},
		embedder: &keywordEmbedder{},
		llm:      &echoProvider{reply: "Paris."},
		dataDir:  t.TempDir(),
	}
	f.defaults = defaultrag.New(filepath.Join(t.TempDir(), "default_rag.txt"))

	reg := provider.NewRegistry()
	reg.Register("fake", f.llm)
	require.NoError(t, reg.SetDefault("fake/test-model"))

	o := rag.Options{
		Store:      f.store,
		Embedder:   f.embedder,
		Chunker:    chunker,
		Providers:  reg,
		Defaults:   f.defaults,
		DataFolder: f.dataDir,
	}
	for _, opt := range opts {
		opt(&o)
	}

	f.svc, err = rag.New(o)
	require.NoError(t, err)
	return f
}

func (f *fixture) ingest(t *testing.T, ns, source, text string) rag.IngestResult {
	t.Helper()
	res, err := f.svc.IngestText(context.Background(), ns, source, text)
	require.NoError(t, err)
	return res
}

func upstreamErr(msg string) error {
	return ragerr.New(ragerr.CodeVectorUpstreamFailure, msg)
}

func ptr[T any](v T) *T { return &v }
