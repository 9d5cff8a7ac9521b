// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/rag"
	"github.com/ragd-dev/ragd/internal/server"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

func do(t *testing.T, srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestRoutes_Ask(t *testing.T) {
	var got rag.AskRequest
	m := &mockRAG{askFn: func(_ context.Context, req rag.AskRequest) (rag.Answer, error) {
		got = req
		return rag.Answer{
			Response:  "Cats sleep a lot.",
			Sources:   []rag.Source{{Namespace: "animals", ID: "cats.txt-chunk-0-0", FileName: "cats.txt", Score: 0.91}},
			Usage:     provider.Usage{InputTokens: 40, OutputTokens: 5},
			Model:     "openai/gpt-4o-mini",
			Skipped:   []rag.Skipped{},
			RequestID: req.RequestID,
		}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/ask",
		`{"query":"do cats sleep?","rag_names":["animals"],"top_k":2,"threshold":0.25,"model":"openai/gpt-4o-mini"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "do cats sleep?", got.Query)
	assert.Equal(t, []string{"animals"}, got.Namespaces)
	assert.Equal(t, 2, got.TopK)
	require.NotNil(t, got.Threshold)
	assert.InDelta(t, 0.25, *got.Threshold, 1e-6)
	assert.Equal(t, "openai/gpt-4o-mini", got.Model)
	assert.NotEmpty(t, got.RequestID)

	resp := decode[rag.Answer](t, w)
	assert.Equal(t, "Cats sleep a lot.", resp.Response)
	assert.Equal(t, 40, resp.Usage.InputTokens)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "cats.txt", resp.Sources[0].FileName)
	assert.Equal(t, got.RequestID, resp.RequestID)
}

func TestRoutes_Ask_NoThresholdLeavesDefault(t *testing.T) {
	var got rag.AskRequest
	m := &mockRAG{askFn: func(_ context.Context, req rag.AskRequest) (rag.Answer, error) {
		got = req
		return rag.Answer{}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/ask", `{"query":"hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, got.Threshold)
	assert.Empty(t, got.Namespaces)
	assert.Zero(t, got.TopK)
}

func TestRoutes_Ask_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", ragerr.New(ragerr.CodeRAGInvalidInput, "query is required"), http.StatusBadRequest},
		{"no namespace", ragerr.New(ragerr.CodeRAGNoNamespace, "no RAGs exist"), http.StatusNotFound},
		{"all namespaces failed", ragerr.New(ragerr.CodeRAGUnavailable, "every namespace failed"), http.StatusServiceUnavailable},
		{"no default provider", ragerr.New(ragerr.CodeProviderNoDefault, "no provider"), http.StatusServiceUnavailable},
		{"generation failed", ragerr.New(ragerr.CodeRAGGenerateFailure, "provider down"), http.StatusBadGateway},
		{"embedder failed", ragerr.New(ragerr.CodeEmbedUpstreamFailure, "embedder down"), http.StatusBadGateway},
		{"uncoded", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockRAG{askFn: func(context.Context, rag.AskRequest) (rag.Answer, error) {
				return rag.Answer{}, tt.err
			}}
			srv := newTestServerWithRAG(t, m)

			w := do(t, srv, http.MethodPost, "/api/v1/ask", `{"query":"hi"}`)

			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), tt.err.Error())
		})
	}
}

func TestRoutes_Retrieve(t *testing.T) {
	var got rag.RetrieveRequest
	m := &mockRAG{retrieveFn: func(_ context.Context, req rag.RetrieveRequest) (rag.Retrieval, error) {
		got = req
		return rag.Retrieval{
			Query:      req.Query,
			Namespaces: []string{"animals"},
			Matches: []rag.Match{{
				Source:  rag.Source{Namespace: "animals", ID: "cats.txt-chunk-0-0", FileName: "cats.txt", Score: 0.8},
				Content: "cats sleep",
			}},
			Context: "cats sleep",
			Skipped: []rag.Skipped{{Namespace: "gone", Reason: "not found"}},
		}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/retrieve", `{"query":"cats","top_k":1}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cats", got.Query)
	assert.Equal(t, 1, got.TopK)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cats sleep", resp["context"])
	matches := resp["matches"].([]any)
	require.Len(t, matches, 1)
	first := matches[0].(map[string]any)
	assert.Equal(t, "animals", first["rag_name"], "source fields are inlined")
	assert.Equal(t, "cats sleep", first["content"])
}

func TestRoutes_CreateRAG(t *testing.T) {
	var gotName, gotFolder string
	m := &mockRAG{createFn: func(_ context.Context, name, folder string) (rag.CreateResult, error) {
		gotName, gotFolder = name, folder
		return rag.CreateResult{Namespace: name, TotalFiles: 2, TotalVectors: 7, FilesSkipped: []rag.SkippedFile{}}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/rags", `{"rag_name":"docs","folder":"/srv/docs"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "docs", gotName)
	assert.Equal(t, "/srv/docs", gotFolder)
	resp := decode[rag.CreateResult](t, w)
	assert.Equal(t, 7, resp.TotalVectors)
}

func TestRoutes_CreateRAG_ConflictIsBadRequest(t *testing.T) {
	m := &mockRAG{createFn: func(_ context.Context, name, _ string) (rag.CreateResult, error) {
		return rag.CreateResult{}, ragerr.Errorf(ragerr.CodeRAGCreateConflict, "RAG %q already exists", name)
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/rags", `{"rag_name":"docs"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already exists")
}

func TestRoutes_CreateRAG_MissingNameIsBadRequest(t *testing.T) {
	m := &mockRAG{createFn: func(_ context.Context, name, _ string) (rag.CreateResult, error) {
		if name == "" {
			return rag.CreateResult{}, ragerr.New(ragerr.CodeRAGInvalidInput, "rag name is required")
		}
		return rag.CreateResult{}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/rags", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_ListRAGs(t *testing.T) {
	m := &mockRAG{listFn: func(context.Context) ([]rag.RAGInfo, error) {
		return []rag.RAGInfo{
			{Name: "animals", TotalVectors: 3, FilesUsed: []string{"cats.txt"}, IsDefault: true},
			{Name: "cities", TotalVectors: 1, FilesUsed: []string{"paris.txt"}},
		}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodGet, "/api/v1/rags", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		RAGs []rag.RAGInfo `json:"rags"`
	}](t, w)
	require.Len(t, resp.RAGs, 2)
	assert.True(t, resp.RAGs[0].IsDefault)
	assert.Equal(t, "cities", resp.RAGs[1].Name)
}

func TestRoutes_Summary(t *testing.T) {
	m := &mockRAG{summaryFn: func(_ context.Context, name string) (rag.Summary, error) {
		if name != "animals" {
			return rag.Summary{}, ragerr.Errorf(ragerr.CodeRAGNotFound, "RAG %q not found", name)
		}
		return rag.Summary{Namespace: name, TotalVectors: 3, Dimensions: 4, FilesUsed: []string{"cats.txt"}, Sections: 3}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodGet, "/api/v1/rags/animals", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[rag.Summary](t, w)
	assert.Equal(t, 4, resp.Dimensions)
	assert.Equal(t, 3, resp.Sections)

	w = do(t, srv, http.MethodGet, "/api/v1/rags/plants", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_DeleteRAG(t *testing.T) {
	var deleted string
	m := &mockRAG{deleteFn: func(_ context.Context, name string) error {
		if name == "missing" {
			return ragerr.Errorf(ragerr.CodeRAGNotFound, "RAG %q not found", name)
		}
		deleted = name
		return nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodDelete, "/api/v1/rags/animals", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "animals", deleted)
	assert.Contains(t, w.Body.String(), "RAG 'animals' deleted")

	w = do(t, srv, http.MethodDelete, "/api/v1/rags/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_ListFiles(t *testing.T) {
	m := &mockRAG{filesFn: func(context.Context, string) ([]string, error) {
		return []string{"cats.txt", "dogs.txt"}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodGet, "/api/v1/rags/animals/files", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rag_name":"animals","files":["cats.txt","dogs.txt"]}`, w.Body.String())
}

func TestRoutes_RemoveFile(t *testing.T) {
	m := &mockRAG{removeSourceFn: func(_ context.Context, _, fileName string) (int, error) {
		if fileName != "cats.txt" {
			return 0, ragerr.Errorf(ragerr.CodeRAGSourceNotFound, "file %q not found", fileName)
		}
		return 3, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodDelete, "/api/v1/rags/animals/files/cats.txt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rag_name":"animals","file_name":"cats.txt","vectors_removed":3}`, w.Body.String())

	w = do(t, srv, http.MethodDelete, "/api/v1/rags/animals/files/birds.txt", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_DeleteVectors(t *testing.T) {
	var got []string
	m := &mockRAG{removeVecFn: func(_ context.Context, _ string, ids []string) error {
		got = ids
		return nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/rags/animals/vectors:delete", `{"ids":["a","b"]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"a", "b"}, got)
	assert.JSONEq(t, `{"rag_name":"animals","deleted":2}`, w.Body.String())
}

func TestRoutes_IngestText(t *testing.T) {
	var gotNS, gotSource, gotText string
	m := &mockRAG{ingestTextFn: func(_ context.Context, ns, source, text string) (rag.IngestResult, error) {
		gotNS, gotSource, gotText = ns, source, text
		return rag.IngestResult{Namespace: ns, Source: source, FileName: "notes.txt", Chunks: 1, Vectors: 1, IngestionID: "id-1"}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/rags/notes/texts", `{"source":"/tmp/notes.txt","text":"hello there"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "notes", gotNS)
	assert.Equal(t, "/tmp/notes.txt", gotSource)
	assert.Equal(t, "hello there", gotText)
	resp := decode[rag.IngestResult](t, w)
	assert.Equal(t, "id-1", resp.IngestionID)
}

func TestRoutes_IngestText_EmptyTextIsBadRequest(t *testing.T) {
	m := &mockRAG{ingestTextFn: func(context.Context, string, string, string) (rag.IngestResult, error) {
		return rag.IngestResult{}, ragerr.New(ragerr.CodeIngestExtractEmpty, "no text to ingest")
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/rags/notes/texts", `{"source":"a.txt","text":"   "}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_IngestURL(t *testing.T) {
	m := &mockRAG{ingestURLFn: func(_ context.Context, ns, rawURL string) (rag.IngestResult, error) {
		if strings.Contains(rawURL, "broken") {
			return rag.IngestResult{}, ragerr.New(ragerr.CodeIngestFetchUpstreamFailure, "fetch returned 500")
		}
		return rag.IngestResult{Namespace: ns, Source: rawURL, FileName: "example_com.txt", Vectors: 2}, nil
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPost, "/api/v1/rags/web/urls", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "example_com.txt", decode[rag.IngestResult](t, w).FileName)

	w = do(t, srv, http.MethodPost, "/api/v1/rags/web/urls", `{"url":"https://broken.example.com"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRoutes_DefaultRAG_Unset(t *testing.T) {
	srv := newTestServerWithRAG(t, &mockRAG{})

	w := do(t, srv, http.MethodGet, "/api/v1/default-rag", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"default_rag":null,"message":"No default RAG has been set."}`, w.Body.String())
}

func TestRoutes_DefaultRAG_SetAndGet(t *testing.T) {
	m := &mockRAG{}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPut, "/api/v1/default-rag", `{"rag_name":"animals"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Default RAG set to 'animals'")

	w = do(t, srv, http.MethodGet, "/api/v1/default-rag", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"default_rag":"animals"}`, w.Body.String())
}

func TestRoutes_DefaultRAG_SetUnknown(t *testing.T) {
	m := &mockRAG{setDefault: func(name string) error {
		return ragerr.Errorf(ragerr.CodeRAGNotFound, "RAG %q not found", name)
	}}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodPut, "/api/v1/default-rag", `{"rag_name":"ghost"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_DefaultRAG_ReadFailure(t *testing.T) {
	m := &mockRAG{defaultErr: ragerr.New(ragerr.CodeDefaultRAGReadFailure, "reading default rag file")}
	srv := newTestServerWithRAG(t, m)

	w := do(t, srv, http.MethodGet, "/api/v1/default-rag", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRoutes_Tree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "c.txt"), []byte("c"), 0o644))

	srv := newTestServerWithRAG(t, &mockRAG{dataFolder: dir})

	w := do(t, srv, http.MethodGet, "/api/v1/tree", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{".":["a.pdf","b.txt"],"nested":["c.txt"]}`, w.Body.String())
}

func TestRoutes_Tree_NoDataFolder(t *testing.T) {
	srv := newTestServerWithRAG(t, &mockRAG{})

	w := do(t, srv, http.MethodGet, "/api/v1/tree", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_Status(t *testing.T) {
	failedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &mockRAG{
		listFn: func(context.Context) ([]rag.RAGInfo, error) {
			return []rag.RAGInfo{{Name: "a"}, {Name: "b"}}, nil
		},
		defaultRAG: "a",
		defaultSet: true,
		dataFolder: "/srv/data",
	}
	srv := newTestServerWithRAG(t, m,
		server.WithProviders(staticHealth{
			"openai":    {Available: true},
			"anthropic": {Available: false, FailureCount: 2, LastFailureAt: &failedAt},
		}),
		server.WithEmbedderHealth(embedderHealth{Available: true}),
	)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[server.StatusBody](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "dev", resp.Version)
	assert.Equal(t, "memory", resp.VectorBackend)
	assert.Equal(t, "hash", resp.Embedder)
	assert.Equal(t, 2, resp.Namespaces)
	require.NotNil(t, resp.DefaultRAG)
	assert.Equal(t, "a", *resp.DefaultRAG)
	assert.Equal(t, "/srv/data", resp.DataFolder)
	require.Contains(t, resp.Providers, "anthropic")
	assert.Equal(t, int64(2), resp.Providers["anthropic"].FailureCount)
	require.NotNil(t, resp.EmbedderHealth)
	assert.True(t, resp.EmbedderHealth.Available)
}

func TestRoutes_Status_Degraded(t *testing.T) {
	tests := []struct {
		name string
		m    *mockRAG
		opts []server.ServicesOption
	}{
		{
			name: "store listing fails",
			m: &mockRAG{listFn: func(context.Context) ([]rag.RAGInfo, error) {
				return nil, ragerr.New(ragerr.CodeVectorUpstreamFailure, "milvus unreachable")
			}},
		},
		{
			name: "embedder cooling down",
			m:    &mockRAG{},
			opts: []server.ServicesOption{server.WithEmbedderHealth(embedderHealth(health.Metrics{Available: false, FailureCount: 3}))},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServerWithRAG(t, tt.m, tt.opts...)

			w := do(t, srv, http.MethodGet, "/api/v1/status", "")

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "degraded", decode[server.StatusBody](t, w).Status)
		})
	}
}
