// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ragd-dev/ragd/internal/rag"
	"github.com/ragd-dev/ragd/internal/server"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

// mockRAG implements server.RAGService. Unset funcs return a not-found
// error so a test only wires what it exercises.
type mockRAG struct {
	askFn          func(ctx context.Context, req rag.AskRequest) (rag.Answer, error)
	askStreamFn    func(ctx context.Context, req rag.AskRequest) (*rag.AnswerStream, error)
	retrieveFn     func(ctx context.Context, req rag.RetrieveRequest) (rag.Retrieval, error)
	createFn       func(ctx context.Context, name, folder string) (rag.CreateResult, error)
	listFn         func(ctx context.Context) ([]rag.RAGInfo, error)
	summaryFn      func(ctx context.Context, name string) (rag.Summary, error)
	filesFn        func(ctx context.Context, name string) ([]string, error)
	deleteFn       func(ctx context.Context, name string) error
	removeSourceFn func(ctx context.Context, name, fileName string) (int, error)
	removeVecFn    func(ctx context.Context, name string, ids []string) error
	ingestFileFn   func(ctx context.Context, ns, path string) (rag.IngestResult, error)
	ingestTextFn   func(ctx context.Context, ns, source, text string) (rag.IngestResult, error)
	ingestURLFn    func(ctx context.Context, ns, rawURL string) (rag.IngestResult, error)

	defaultRAG string
	defaultSet bool
	defaultErr error
	setDefault func(name string) error
	dataFolder string
}

var _ server.RAGService = (*mockRAG)(nil)

func errUnwired(op string) error {
	return ragerr.Errorf(ragerr.CodeServerEntityNotFound, "%s not wired in test", op)
}

func (m *mockRAG) Ask(ctx context.Context, req rag.AskRequest) (rag.Answer, error) {
	if m.askFn == nil {
		return rag.Answer{}, errUnwired("ask")
	}
	return m.askFn(ctx, req)
}

func (m *mockRAG) AskStream(ctx context.Context, req rag.AskRequest) (*rag.AnswerStream, error) {
	if m.askStreamFn == nil {
		return nil, errUnwired("ask stream")
	}
	return m.askStreamFn(ctx, req)
}

func (m *mockRAG) Retrieve(ctx context.Context, req rag.RetrieveRequest) (rag.Retrieval, error) {
	if m.retrieveFn == nil {
		return rag.Retrieval{}, errUnwired("retrieve")
	}
	return m.retrieveFn(ctx, req)
}

func (m *mockRAG) CreateRAG(ctx context.Context, name, folder string) (rag.CreateResult, error) {
	if m.createFn == nil {
		return rag.CreateResult{}, errUnwired("create")
	}
	return m.createFn(ctx, name, folder)
}

func (m *mockRAG) ListRAGs(ctx context.Context) ([]rag.RAGInfo, error) {
	if m.listFn == nil {
		return []rag.RAGInfo{}, nil
	}
	return m.listFn(ctx)
}

func (m *mockRAG) Summary(ctx context.Context, name string) (rag.Summary, error) {
	if m.summaryFn == nil {
		return rag.Summary{}, errUnwired("summary")
	}
	return m.summaryFn(ctx, name)
}

func (m *mockRAG) ListFiles(ctx context.Context, name string) ([]string, error) {
	if m.filesFn == nil {
		return nil, errUnwired("files")
	}
	return m.filesFn(ctx, name)
}

func (m *mockRAG) DeleteRAG(ctx context.Context, name string) error {
	if m.deleteFn == nil {
		return errUnwired("delete")
	}
	return m.deleteFn(ctx, name)
}

func (m *mockRAG) RemoveSource(ctx context.Context, name, fileName string) (int, error) {
	if m.removeSourceFn == nil {
		return 0, errUnwired("remove source")
	}
	return m.removeSourceFn(ctx, name, fileName)
}

func (m *mockRAG) RemoveVectors(ctx context.Context, name string, ids []string) error {
	if m.removeVecFn == nil {
		return errUnwired("remove vectors")
	}
	return m.removeVecFn(ctx, name, ids)
}

func (m *mockRAG) IngestFile(ctx context.Context, ns, path string) (rag.IngestResult, error) {
	if m.ingestFileFn == nil {
		return rag.IngestResult{}, errUnwired("ingest file")
	}
	return m.ingestFileFn(ctx, ns, path)
}

func (m *mockRAG) IngestText(ctx context.Context, ns, source, text string) (rag.IngestResult, error) {
	if m.ingestTextFn == nil {
		return rag.IngestResult{}, errUnwired("ingest text")
	}
	return m.ingestTextFn(ctx, ns, source, text)
}

func (m *mockRAG) IngestURL(ctx context.Context, ns, rawURL string) (rag.IngestResult, error) {
	if m.ingestURLFn == nil {
		return rag.IngestResult{}, errUnwired("ingest url")
	}
	return m.ingestURLFn(ctx, ns, rawURL)
}

func (m *mockRAG) DefaultRAG() (string, bool, error) {
	return m.defaultRAG, m.defaultSet, m.defaultErr
}

func (m *mockRAG) SetDefaultRAG(name string) error {
	if m.setDefault == nil {
		m.defaultRAG, m.defaultSet = name, true
		return nil
	}
	return m.setDefault(name)
}

func (m *mockRAG) DataFolder() string { return m.dataFolder }

type staticHealth map[string]health.Metrics

func (h staticHealth) HealthMetrics() map[string]health.Metrics { return h }

type embedderHealth health.Metrics

func (h embedderHealth) HealthMetrics() health.Metrics { return health.Metrics(h) }

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return srv
}

// newTestServerWithRAG returns an open server whose routes call m.
func newTestServerWithRAG(t *testing.T, m *mockRAG, opts ...server.ServicesOption) *server.Server {
	t.Helper()
	srv := newTestServer(t)
	svc, err := server.NewServices(m, server.BackendInfo{VectorBackend: "memory", Embedder: "hash"}, opts...)
	require.NoError(t, err)
	srv.RegisterServices(svc)
	return srv
}
