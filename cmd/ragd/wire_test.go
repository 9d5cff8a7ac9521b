// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragd-dev/ragd/internal/chunk"
	"github.com/ragd-dev/ragd/internal/config"
	"github.com/ragd-dev/ragd/internal/provider"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// stubProvider satisfies provider.Provider without network access.
type stubProvider struct {
	name   string
	closed bool
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Available(context.Context) bool { return true }

func (p *stubProvider) Close() error {
	p.closed = true
	return nil
}

func (p *stubProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *stubProvider) Chat(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent)
	close(ch)
	return ch, nil
}

func (p *stubProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{}, nil
}

// stubFactories replaces the built-in constructors for the test.
func stubFactories(t *testing.T, failing ...string) {
	t.Helper()
	old := builtinProviderFactories
	t.Cleanup(func() { builtinProviderFactories = old })

	builtinProviderFactories = map[string]providerFactory{}
	for _, name := range []string{"anthropic", "openai", "google"} {
		builtinProviderFactories[name] = func(config.ProviderConfig) (provider.Provider, error) {
			return &stubProvider{name: name}, nil
		}
	}
	for _, name := range failing {
		builtinProviderFactories[name] = func(config.ProviderConfig) (provider.Provider, error) {
			return nil, errors.New("boom")
		}
	}
}

func loadTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := config.Load(writeTestConfig(t, extra))
	require.NoError(t, err)
	return cfg
}

func TestWireGateway(t *testing.T) {
	cfg := loadTestConfig(t, "")

	gw, err := WireGateway(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	require.NotNil(t, gw.Server)
	require.NotNil(t, gw.RAG)
	assert.Equal(t, "ollama", gw.Embedder.Name())
	assert.Equal(t, 1024, gw.Embedder.Dimensions())
	assert.Equal(t, 1024, gw.VectorStore.Dimensions())
	assert.Nil(t, gw.Watcher)
	assert.DirExists(t, cfg.Storage.DataDir)
	assert.DirExists(t, cfg.Storage.DataFolder)

	rec := httptest.NewRecorder()
	gw.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vector_backend":"memory"`)
}

func TestWireGateway_AuthTokens(t *testing.T) {
	cfg := loadTestConfig(t, "server:\n  auth:\n    tokens: [\"s3cret\"]\n")

	gw, err := WireGateway(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	rec := httptest.NewRecorder()
	gw.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rags", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rags", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	gw.Server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWireGateway_WatcherNeedsNamespace(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.Ingest.Watch = true
	cfg.Ingest.WatchNamespace = ""

	_, err := WireGateway(t.Context(), cfg)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeCLISetupFailure))
}

func TestWireGateway_Watcher(t *testing.T) {
	cfg := loadTestConfig(t, "")
	cfg.Ingest.Watch = true
	cfg.Ingest.WatchNamespace = "inbox"

	gw, err := WireGateway(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	assert.NotNil(t, gw.Watcher)
}

func TestWireGateway_FailureClosesProviders(t *testing.T) {
	stubFactories(t)
	anthropic := &stubProvider{name: "anthropic"}
	builtinProviderFactories["anthropic"] = func(config.ProviderConfig) (provider.Provider, error) {
		return anthropic, nil
	}

	cfg := loadTestConfig(t, "")
	cfg.Providers = map[string]config.ProviderConfig{"anthropic": {APIKey: "sk-ant"}}
	cfg.Server.Auth.Tokens = []string{"  "}

	_, err := WireGateway(t.Context(), cfg)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeCLISetupFailure))
	assert.True(t, anthropic.closed)
}

func TestGatewayClose_Idempotent(t *testing.T) {
	cfg := loadTestConfig(t, "")

	gw, err := WireGateway(t.Context(), cfg)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	assert.NotPanics(t, func() { _ = gw.Server.Close() })
}

func TestRegisterBuiltinProviders(t *testing.T) {
	stubFactories(t, "google")
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"anthropic": {APIKey: "sk-ant"},
		"openai":    {APIKey: "keyring://ragd/openai-api-key"},
		"mistral":   {APIKey: "k"},
		"google":    {APIKey: "g"},
		"empty":     {},
	}}

	reg := provider.NewRegistry()
	registerBuiltinProviders(cfg, reg)
	assert.Equal(t, []string{"anthropic"}, reg.Names())
}

func TestRouteModels(t *testing.T) {
	stubFactories(t)

	tests := []struct {
		name         string
		def          string
		failover     []string
		wantDefault  string
		wantAttempts int
	}{
		{"registered", "openai/gpt-4o", []string{"anthropic/claude-sonnet-4-5"}, "openai/gpt-4o", 2},
		{"unregistered default", "google/gemini-2.0-flash", nil, "", 1},
		{"drops unregistered failover", "openai/gpt-4o", []string{"google/gemini-2.0-flash", "anthropic/claude-sonnet-4-5"}, "openai/gpt-4o", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Providers: map[string]config.ProviderConfig{
					"openai":    {APIKey: "sk"},
					"anthropic": {APIKey: "sk-ant"},
				},
			}
			cfg.Models.Default = tt.def
			cfg.Models.Failover = tt.failover

			reg := provider.NewRegistry()
			registerBuiltinProviders(cfg, reg)
			routeModels(cfg, reg)

			assert.Equal(t, tt.wantDefault, reg.Default())
			assert.Equal(t, tt.wantAttempts, reg.MaxAttempts())
		})
	}
}

func TestEmbeddingConfig_ProviderKeyFallback(t *testing.T) {
	tests := []struct {
		name     string
		embedKey string
		provKey  string
		want     string
	}{
		{"own key wins", "embed-key", "prov-key", "embed-key"},
		{"falls back to provider", "", "prov-key", "prov-key"},
		{"keyring reference ignored", "", "keyring://ragd/openai-api-key", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Providers: map[string]config.ProviderConfig{"openai": {APIKey: tt.provKey}}}
			cfg.Embedding.Backend = "openai"
			cfg.Embedding.APIKey = tt.embedKey

			assert.Equal(t, tt.want, embeddingConfig(cfg).APIKey)
		})
	}
}

func TestNewChunker(t *testing.T) {
	c, err := newChunker(config.ChunkingConfig{Mode: "bytes", MaxWords: 10, MaxBytes: 300})
	require.NoError(t, err)
	assert.Equal(t, chunk.ModeBytes, c.Mode())
	assert.Equal(t, 300, c.Limit())

	c, err = newChunker(config.ChunkingConfig{Mode: "words", MaxWords: 10, MaxBytes: 300})
	require.NoError(t, err)
	assert.Equal(t, chunk.ModeWords, c.Mode())
	assert.Equal(t, 10, c.Limit())
}
