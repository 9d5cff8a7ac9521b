// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embed

import (
	"context"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"google.golang.org/genai"
)

const defaultGoogleModel = "text-embedding-004"

type googleEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
	sendDims   bool
}

func newGoogle(cfg Config) (Embedder, error) {
	if cfg.APIKey == "" {
		return nil, ragerr.New(ragerr.CodeEmbedConfigInvalid, "google embeddings: missing api key", ragerr.FieldBackend("google"))
	}
	model := cfg.Model
	if model == "" {
		model = defaultGoogleModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbedConfigInvalid, "google embeddings: creating client", ragerr.FieldBackend("google"))
	}

	dims := knownDimensions[model]
	if cfg.Dimensions > 0 {
		dims = cfg.Dimensions
	}
	return &googleEmbedder{client: client, model: model, dimensions: dims, sendDims: cfg.Dimensions > 0}, nil
}

func (e *googleEmbedder) Name() string { return "google" }

func (e *googleEmbedder) Dimensions() int { return e.dimensions }

func (e *googleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}

	var cfg *genai.EmbedContentConfig
	if e.sendDims {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(e.dimensions))}
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbedUpstreamFailure, "google embeddings request failed",
			ragerr.FieldBackend("google"), ragerr.Field("model", e.model))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, ragerr.Errorf(ragerr.CodeEmbedResponseInvalid,
			"google returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, ragerr.Errorf(ragerr.CodeEmbedResponseInvalid, "google returned no embedding for input %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
