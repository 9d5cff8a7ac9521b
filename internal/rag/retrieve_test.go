// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/ragd-dev/ragd/internal/rag"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed stores three single-chunk documents whose cosine similarity to the
// query "cat" is 1.0 (cats), 0.707 (paris) and 0.447 (dogs).
func seed(t *testing.T, f *fixture) {
	t.Helper()
	f.ingest(t, "animals", "/docs/cats.txt", "cat")
	f.ingest(t, "animals", "/docs/dogs.txt", "dog dog cat")
	f.ingest(t, "cities", "/docs/paris.txt", "paris cat")
}

func matchIDs(ms []rag.Match) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.Namespace + ":" + m.ID
	}
	return ids
}

func TestRetrieve_RanksAcrossNamespaces(t *testing.T) {
	f := newFixture(t)
	seed(t, f)
	calls := f.embedder.calls

	res, err := f.svc.Retrieve(context.Background(), rag.RetrieveRequest{
		Query:      "  cat ",
		Namespaces: []string{"animals", "cities", "animals"},
	})
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.embedder.calls, "query is embedded once")

	assert.Equal(t, "cat", res.Query)
	assert.Equal(t, []string{"animals", "cities"}, res.Namespaces)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, []string{
		"animals:cats-chunk-0-0",
		"cities:paris-chunk-0-0",
		"animals:dogs-chunk-0-0",
	}, matchIDs(res.Matches))

	top := res.Matches[0]
	assert.InDelta(t, 1.0, top.Score, 1e-6)
	assert.Equal(t, "cats.txt", top.FileName)
	assert.Equal(t, "/docs/cats.txt", top.Source.Source)
	assert.Equal(t, 0, top.ChunkIndex)
	assert.InDelta(t, 0.7071, res.Matches[1].Score, 1e-3)
	assert.InDelta(t, 0.4472, res.Matches[2].Score, 1e-3)

	assert.Equal(t, "cat\n\n---\n\nparis cat\n\n---\n\ndog dog cat", res.Context)
}

func TestRetrieve_TopKAndThreshold(t *testing.T) {
	f := newFixture(t)
	seed(t, f)
	ctx := context.Background()

	res, err := f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat", Namespaces: []string{"animals", "cities"}, TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"animals:cats-chunk-0-0"}, matchIDs(res.Matches))

	res, err = f.svc.Retrieve(ctx, rag.RetrieveRequest{
		Query:      "cat",
		Namespaces: []string{"animals", "cities"},
		Threshold:  ptr(float32(0.5)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"animals:cats-chunk-0-0", "cities:paris-chunk-0-0"}, matchIDs(res.Matches))

	res, err = f.svc.Retrieve(ctx, rag.RetrieveRequest{
		Query:      "cat",
		Namespaces: []string{"animals"},
		Threshold:  ptr(float32(1.1)),
	})
	require.NoError(t, err, "nothing above the threshold is not an error")
	assert.Empty(t, res.Matches)
	assert.Empty(t, res.Context)
}

func TestRetrieve_TiesBreakByNamespaceThenID(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "zoo", "b.txt", "cat")
	f.ingest(t, "zoo", "a.txt", "cat")
	f.ingest(t, "farm", "c.txt", "cat")

	res, err := f.svc.Retrieve(context.Background(), rag.RetrieveRequest{Query: "cat", Namespaces: []string{"zoo", "farm"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"farm:c-chunk-0-0", "zoo:a-chunk-0-0", "zoo:b-chunk-0-0"}, matchIDs(res.Matches))
}

func TestRetrieve_NamespaceResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat"})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeRAGNoNamespace))
	assert.Equal(t, http.StatusNotFound, ragerr.HTTPStatus(err))

	seed(t, f)

	res, err := f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"animals", "cities"}, res.Namespaces, "no default searches everything")

	require.NoError(t, f.svc.SetDefaultRAG("cities"))
	res, err = f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cities"}, res.Namespaces)
	assert.Equal(t, []string{"cities:paris-chunk-0-0"}, matchIDs(res.Matches))
}

func TestRetrieve_SkipsFailingNamespaces(t *testing.T) {
	f := newFixture(t)
	seed(t, f)
	f.store.fail["cities"] = upstreamErr("milvus unreachable")

	res, err := f.svc.Retrieve(context.Background(), rag.RetrieveRequest{
		Query:      "cat",
		Namespaces: []string{"animals", "cities", "missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"animals:cats-chunk-0-0", "animals:dogs-chunk-0-0"}, matchIDs(res.Matches))

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "cities", res.Skipped[0].Namespace)
	assert.Contains(t, res.Skipped[0].Reason, "milvus unreachable")
	assert.Equal(t, "missing", res.Skipped[1].Namespace)
}

func TestRetrieve_AllNamespacesFail(t *testing.T) {
	f := newFixture(t)
	seed(t, f)
	ctx := context.Background()

	_, err := f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat", Namespaces: []string{"nope", "gone"}})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeRAGNotFound))
	assert.Equal(t, http.StatusNotFound, ragerr.HTTPStatus(err))

	f.store.fail["animals"] = upstreamErr("down")
	_, err = f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat", Namespaces: []string{"animals", "gone"}})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeRAGUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, ragerr.HTTPStatus(err))
}

func TestRetrieve_InvalidInput(t *testing.T) {
	f := newFixture(t)
	seed(t, f)
	ctx := context.Background()

	_, err := f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "   "})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeRAGInvalidInput))

	_, err = f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat", Namespaces: []string{"bad\nname"}})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeRAGInvalidInput))

	f.embedder.err = ragerr.New(ragerr.CodeEmbedUpstreamFailure, "embedding down")
	_, err = f.svc.Retrieve(ctx, rag.RetrieveRequest{Query: "cat", Namespaces: []string{"animals"}})
	assert.Equal(t, http.StatusBadGateway, ragerr.HTTPStatus(err))
}

func TestRetrieve_TruncatesContext(t *testing.T) {
	f := newFixture(t, func(o *rag.Options) {
		o.Retrieval.MaxContextChars = 12
	})
	seed(t, f)

	res, err := f.svc.Retrieve(context.Background(), rag.RetrieveRequest{Query: "cat", Namespaces: []string{"animals", "cities"}})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 3, "truncation applies to the context only")
	assert.Equal(t, "cat\n\n---\n\npa", res.Context)
}

func TestAsk(t *testing.T) {
	f := newFixture(t, func(o *rag.Options) {
		o.Generation.SystemPrompt = "Answer briefly."
		o.Generation.MaxTokens = 256
		o.Generation.Temperature = ptr(float32(0.2))
	})
	seed(t, f)

	ans, err := f.svc.Ask(context.Background(), rag.AskRequest{
		Query:      "where is the cat?",
		Namespaces: []string{"cities"},
		RequestID:  "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", ans.Response)
	assert.Equal(t, "fake/test-model", ans.Model)
	assert.Equal(t, "req-1", ans.RequestID)
	assert.Equal(t, 57, ans.Usage.TotalTokens())
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "paris.txt", ans.Sources[0].FileName)
	assert.Empty(t, ans.Skipped)

	req := f.llm.lastRequest()
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, "Answer briefly.", req.SystemPrompt)
	assert.Equal(t, 256, req.Options.MaxTokens)
	require.NotNil(t, req.Options.Temperature)
	assert.InDelta(t, 0.2, *req.Options.Temperature, 1e-6)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "Context:\nparis cat")
	assert.True(t, strings.HasSuffix(req.Messages[0].Content, "Question: where is the cat?"))
}

func TestAsk_NoContextStillAsks(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	ans, err := f.svc.Ask(context.Background(), rag.AskRequest{
		Query:      "cat",
		Namespaces: []string{"animals"},
		Threshold:  ptr(float32(2)),
	})
	require.NoError(t, err)
	assert.Empty(t, ans.Sources)
	assert.NotEmpty(t, ans.RequestID)
	assert.Contains(t, f.llm.lastRequest().Messages[0].Content, "No relevant context was found")
}

func TestAsk_ModelSelectionAndErrors(t *testing.T) {
	f := newFixture(t)
	seed(t, f)
	ctx := context.Background()

	ans, err := f.svc.Ask(ctx, rag.AskRequest{Query: "cat", Namespaces: []string{"animals"}, Model: "fake/other-model"})
	require.NoError(t, err)
	assert.Equal(t, "fake/other-model", ans.Model)

	_, err = f.svc.Ask(ctx, rag.AskRequest{Query: "cat", Namespaces: []string{"animals"}, Model: "missing/model"})
	require.Error(t, err)

	noLLM := newFixture(t, func(o *rag.Options) { o.Providers = nil })
	noLLM.ingest(t, "animals", "cats.txt", "cat")
	_, err = noLLM.svc.Ask(ctx, rag.AskRequest{Query: "cat"})
	assert.True(t, ragerr.HasCode(err, ragerr.CodeProviderNoDefault))
	assert.Equal(t, http.StatusServiceUnavailable, ragerr.HTTPStatus(err))
}

func TestAskStream(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	stream, err := f.svc.AskStream(context.Background(), rag.AskRequest{Query: "cat", Namespaces: []string{"cities"}})
	require.NoError(t, err)
	assert.Equal(t, "fake/test-model", stream.Model)
	assert.NotEmpty(t, stream.RequestID)
	require.Len(t, stream.Sources, 1)

	var text strings.Builder
	var usage int
	for ev := range stream.Events {
		switch ev.Type {
		case "text_delta":
			text.WriteString(ev.Text)
		case "usage":
			usage = ev.Usage.TotalTokens()
		}
	}
	assert.Equal(t, "Paris.", text.String())
	assert.Equal(t, 57, usage)
}
