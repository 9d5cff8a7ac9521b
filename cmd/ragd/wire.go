// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"slices"

	"github.com/ragd-dev/ragd/internal/chunk"
	"github.com/ragd-dev/ragd/internal/config"
	"github.com/ragd-dev/ragd/internal/defaultrag"
	"github.com/ragd-dev/ragd/internal/embed"
	"github.com/ragd-dev/ragd/internal/ingest"
	"github.com/ragd-dev/ragd/internal/provider"
	anthropicprov "github.com/ragd-dev/ragd/internal/provider/anthropic"
	googleprov "github.com/ragd-dev/ragd/internal/provider/google"
	openaiprov "github.com/ragd-dev/ragd/internal/provider/openai"
	openrouterprov "github.com/ragd-dev/ragd/internal/provider/openrouter"
	"github.com/ragd-dev/ragd/internal/rag"
	"github.com/ragd-dev/ragd/internal/secrets"
	"github.com/ragd-dev/ragd/internal/server"
	"github.com/ragd-dev/ragd/internal/vector"
	_ "github.com/ragd-dev/ragd/internal/vector/milvus" // register milvus backend
	_ "github.com/ragd-dev/ragd/internal/vector/sqlite" // register sqlite backend
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Gateway holds all wired subsystems and manages their lifecycle.
type Gateway struct {
	Server           *server.Server
	RAG              *rag.Service
	VectorStore      vector.Store
	Embedder         *embed.Client
	ProviderRegistry *provider.Registry
	Watcher          *ingest.Watcher
}

// WireGateway creates all subsystems and wires them together.
func WireGateway(_ context.Context, cfg *config.Config) (*Gateway, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, ragerr.Errorf(ragerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}
	if err := ingest.EnsureDir(cfg.Storage.DataFolder); err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "creating data folder")
	}

	// 1. Embedder, sized to the vector index.
	embedder, err := embed.New(embeddingConfig(cfg), cfg.Vector.Dimensions)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeCLISetupFailure, "creating %s embedder", cfg.Embedding.Backend)
	}

	// 2. Vector store.
	store, err := openVectorStore(cfg)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeCLISetupFailure, "opening %s vector store", cfg.Vector.Backend)
	}
	wired := false
	defer func() {
		if !wired {
			_ = store.Close()
		}
	}()

	// 3. Provider registry with default model and failover chain.
	provReg := provider.NewRegistry()
	registerBuiltinProviders(cfg, provReg)
	routeModels(cfg, provReg)
	defer func() {
		if !wired {
			_ = provReg.Close()
		}
	}()

	// 4. Chunker and RAG service.
	chunker, err := newChunker(cfg.Chunking)
	if err != nil {
		return nil, err
	}

	temperature := float32(cfg.Models.Temperature)
	svc, err := rag.New(rag.Options{
		Store:         store,
		Embedder:      embedder,
		Chunker:       chunker,
		Providers:     provReg,
		Defaults:      defaultrag.New(cfg.Storage.DefaultRAGFile),
		Fetcher:       ingest.NewFetcher(cfg.Ingest.URLTimeout, cfg.Ingest.UserAgent),
		DataFolder:    cfg.Storage.DataFolder,
		Patterns:      cfg.Ingest.Patterns,
		MetadataLimit: cfg.Chunking.MetadataLimit,
		Retrieval: rag.RetrievalOptions{
			TopK:            cfg.Retrieval.TopK,
			PerNamespaceK:   cfg.Retrieval.PerNamespaceK,
			Threshold:       float32(cfg.Retrieval.Threshold),
			MaxContextChars: cfg.Retrieval.MaxContextChars,
		},
		Generation: rag.GenerationOptions{
			SystemPrompt: cfg.Models.SystemPrompt,
			MaxTokens:    cfg.Models.MaxTokens,
			Temperature:  &temperature,
		},
	})
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "creating rag service")
	}

	// 5. Optional folder watcher.
	var watcher *ingest.Watcher
	if cfg.Ingest.Watch {
		watcher, err = newFolderWatcher(cfg, svc)
		if err != nil {
			return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "creating folder watcher")
		}
	}

	// 6. HTTP server.
	var tokenValidator server.TokenValidator
	if len(cfg.Server.Auth.Tokens) > 0 {
		tokens, err := server.NewStaticTokens(cfg.Server.Auth.Tokens)
		if err != nil {
			return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "configuring auth tokens")
		}
		tokenValidator = tokens
	} else {
		slog.Warn("authentication disabled: no API tokens configured")
	}

	opts := []server.ServicesOption{
		server.WithProviders(provReg),
		server.WithEmbedderHealth(embedder),
	}
	if watcher != nil {
		opts = append(opts, server.WithWatcher(watcher))
	}
	services, err := server.NewServices(svc, server.BackendInfo{
		VectorBackend: cfg.Vector.Backend,
		Embedder:      embedder.Name(),
	}, opts...)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "creating services")
	}

	srv, err := server.New(server.Config{
		ListenAddr:     cfg.Server.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RateLimit:      server.RateLimitConfig{RequestsPerSecond: cfg.Server.RateLimit.RPS, Burst: cfg.Server.RateLimit.Burst},
		TokenValidator: tokenValidator,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Version:        version,
	})
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "creating server")
	}
	srv.RegisterServices(services)

	wired = true
	return &Gateway{
		Server:           srv,
		RAG:              svc,
		VectorStore:      store,
		Embedder:         embedder,
		ProviderRegistry: provReg,
		Watcher:          watcher,
	}, nil
}

// Start runs the HTTP server and blocks until the context is cancelled.
func (gw *Gateway) Start(ctx context.Context) error {
	return gw.Server.Start(ctx)
}

// Close releases all resources held by the gateway.
func (gw *Gateway) Close() error {
	type closer interface{ Close() error }
	var closers []closer
	if gw.Server != nil {
		closers = append(closers, gw.Server)
	}
	if gw.ProviderRegistry != nil {
		closers = append(closers, gw.ProviderRegistry)
	}
	if gw.VectorStore != nil {
		closers = append(closers, gw.VectorStore)
	}

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return ragerr.Join(errs...)
	}
	return nil
}

// embeddingConfig maps config to the embed factory. The openai and google
// backends fall back to the matching provider key.
func embeddingConfig(cfg *config.Config) embed.Config {
	ec := embed.Config{
		Backend:     cfg.Embedding.Backend,
		Model:       cfg.Embedding.Model,
		Dimensions:  cfg.Embedding.Dimensions,
		Endpoint:    cfg.Embedding.Endpoint,
		APIKey:      cfg.Embedding.APIKey,
		VectorsPath: cfg.Embedding.VectorsPath,
		BatchSize:   cfg.Embedding.BatchSize,
	}
	if ec.APIKey == "" {
		if pc, ok := cfg.Providers[ec.Backend]; ok && !secrets.IsKeyringURI(pc.APIKey) {
			ec.APIKey = pc.APIKey
		}
	}
	return ec
}

func openVectorStore(cfg *config.Config) (vector.Store, error) {
	return vector.New(vector.Config{
		Backend:    cfg.Vector.Backend,
		Dimensions: cfg.Vector.Dimensions,
		SQLitePath: cfg.Vector.SQLite.Path,
		Milvus: vector.MilvusConfig{
			Address:    cfg.Vector.Milvus.Address,
			APIKey:     cfg.Vector.Milvus.APIKey,
			Collection: cfg.Vector.Milvus.Collection,
			DBName:     cfg.Vector.Milvus.DBName,
		},
	})
}

func newChunker(cc config.ChunkingConfig) (*chunk.Chunker, error) {
	if cc.Mode == string(chunk.ModeBytes) {
		return chunk.New(chunk.ModeBytes, cc.MaxBytes)
	}
	return chunk.New(chunk.ModeWords, cc.MaxWords)
}

// newFolderWatcher ingests new and changed documents under the data folder
// into the configured namespace.
func newFolderWatcher(cfg *config.Config, svc *rag.Service) (*ingest.Watcher, error) {
	ns := cfg.Ingest.WatchNamespace
	if ns == "" {
		return nil, ragerr.New(ragerr.CodeConfigValidateInvalidValue, "ingest.watch_namespace is required when ingest.watch is enabled")
	}
	return ingest.NewWatcher(cfg.Storage.DataFolder, cfg.Ingest.Patterns, cfg.Ingest.Debounce,
		func(ctx context.Context, path string) {
			res, err := svc.IngestFile(ctx, ns, path)
			if err != nil {
				slog.Warn("watched file not ingested", "namespace", ns, "path", path, "error", err)
				return
			}
			slog.Info("ingested watched file", "namespace", ns, "path", path, "vectors", res.Vectors)
		})
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(config.ProviderConfig) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject failing factories.
var builtinProviderFactories = map[string]providerFactory{
	"anthropic": func(pc config.ProviderConfig) (provider.Provider, error) {
		return anthropicprov.New(provider.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"google": func(pc config.ProviderConfig) (provider.Provider, error) {
		return googleprov.New(provider.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openai": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openaiprov.New(provider.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	"openrouter": func(pc config.ProviderConfig) (provider.Provider, error) {
		return openrouterprov.New(provider.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
}

// registerBuiltinProviders iterates configured providers and registers
// matching built-in implementations. Unknown names, empty keys and
// unresolved keyring references are logged and skipped.
func registerBuiltinProviders(cfg *config.Config, reg *provider.Registry) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" {
			slog.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		if secrets.IsKeyringURI(pc.APIKey) {
			slog.Warn("skipping provider with unresolved keyring reference", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		slog.Info("registered provider", "provider", name)
	}
}

// routeModels sets the default model and failover chain. References to
// providers that were not registered are dropped with a warning so the
// gateway still serves retrieval.
func routeModels(cfg *config.Config, reg *provider.Registry) {
	registered := reg.Names()
	usable := func(ref string) bool {
		name, _ := provider.ParseRef(ref)
		return slices.Contains(registered, name)
	}

	if ref := cfg.Models.Default; ref != "" {
		if !usable(ref) {
			slog.Warn("default model unavailable: provider not registered", "model", ref)
		} else if err := reg.SetDefault(ref); err != nil {
			slog.Warn("default model rejected", "model", ref, "error", err)
		}
	}

	var chain []string
	for _, ref := range cfg.Models.Failover {
		if !usable(ref) {
			slog.Warn("dropping failover model: provider not registered", "model", ref)
			continue
		}
		chain = append(chain, ref)
	}
	if len(chain) > 0 {
		if err := reg.SetFailover(chain); err != nil {
			slog.Warn("failover chain rejected", "error", err)
		}
	}
}
