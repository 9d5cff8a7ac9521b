// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embed

import (
	"context"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOllamaModel = "mxbai-embed-large"
	defaultOllamaURL   = "http://localhost:11434/v1"
)

// knownDimensions lists native sizes for common models.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"mxbai-embed-large":      1024,
	"nomic-embed-text":       768,
	"text-embedding-004":     768,
	"gemini-embedding-001":   3072,
}

// openAIEmbedder talks to the OpenAI embeddings API or any server that
// implements it (Ollama, vLLM, LM Studio).
type openAIEmbedder struct {
	name       string
	client     openaisdk.Client
	model      string
	dimensions int
	// sendDimensions asks the server to shorten vectors. Only the
	// text-embedding-3 family supports it.
	sendDimensions bool
}

func newOpenAI(cfg Config) (Embedder, error) {
	if cfg.APIKey == "" {
		return nil, ragerr.New(ragerr.CodeEmbedConfigInvalid, "openai embeddings: missing api key", ragerr.FieldBackend("openai"))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	dims := knownDimensions[model]
	send := cfg.Dimensions > 0 && strings.HasPrefix(model, "text-embedding-3")
	if send {
		dims = cfg.Dimensions
	}

	return &openAIEmbedder{
		name:           "openai",
		client:         openaisdk.NewClient(opts...),
		model:          model,
		dimensions:     dims,
		sendDimensions: send,
	}, nil
}

func newLocal(cfg Config) (Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, ragerr.New(ragerr.CodeEmbedConfigInvalid, "local embeddings: endpoint is required", ragerr.FieldBackend("local"))
	}
	if cfg.Model == "" {
		return nil, ragerr.New(ragerr.CodeEmbedConfigInvalid, "local embeddings: model is required", ragerr.FieldBackend("local"))
	}
	return newCompatible("local", cfg), nil
}

func newOllama(cfg Config) (Embedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	return newCompatible("ollama", cfg), nil
}

func newCompatible(name string, cfg Config) *openAIEmbedder {
	// Local servers ignore the key but the SDK requires one.
	key := cfg.APIKey
	if key == "" {
		key = name
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = knownDimensions[cfg.Model]
	}

	return &openAIEmbedder{
		name: name,
		client: openaisdk.NewClient(
			option.WithAPIKey(key),
			option.WithBaseURL(cfg.Endpoint),
		),
		model:      cfg.Model,
		dimensions: dims,
	}
}

func (e *openAIEmbedder) Name() string { return e.name }

func (e *openAIEmbedder) Dimensions() int { return e.dimensions }

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(e.model),
	}
	if e.sendDimensions {
		params.Dimensions = param.NewOpt(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbedUpstreamFailure, e.name+" embeddings request failed",
			ragerr.FieldBackend(e.name), ragerr.Field("model", e.model))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, ragerr.Errorf(ragerr.CodeEmbedResponseInvalid, "%s returned embedding index %d for %d inputs", e.name, d.Index, len(texts))
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, ragerr.Errorf(ragerr.CodeEmbedResponseInvalid, "%s returned no embedding for input %d", e.name, i)
		}
	}
	return out, nil
}
