// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embed

import (
	"context"
	"log/slog"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

// Client batches requests to a backend, fits every vector to the index
// dimension and tracks backend health.
type Client struct {
	backend   Embedder
	dim       int
	batchSize int
	health    *health.Tracker
}

// NewClient wraps backend. dim is the dimension of the vector index.
func NewClient(backend Embedder, dim, batchSize int) (*Client, error) {
	if dim <= 0 {
		return nil, ragerr.Errorf(ragerr.CodeEmbedConfigInvalid, "embedding dimension must be greater than 0, got %d", dim)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if native := backend.Dimensions(); native > 0 && native != dim {
		slog.Info("embedding vectors will be resized to index dimension",
			"backend", backend.Name(), "native", native, "index", dim)
	}
	return &Client{backend: backend, dim: dim, batchSize: batchSize, health: health.NewDefaultTracker()}, nil
}

func (c *Client) Name() string { return c.backend.Name() }

func (c *Client) Dimensions() int { return c.dim }

// NativeDimensions is the backend's own output size, 0 if unknown.
func (c *Client) NativeDimensions() int { return c.backend.Dimensions() }

// HealthMetrics reports the backend's recent failures.
func (c *Client) HealthMetrics() health.Metrics {
	return c.health.HealthMetrics()
}

// Embed returns one dim-length vector per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		vecs, err := c.backend.Embed(ctx, texts[start:end])
		if err != nil {
			// A cancelled caller is not a backend failure.
			if ctx.Err() == nil {
				c.health.RecordFailure()
			}
			return nil, err
		}
		if len(vecs) != end-start {
			c.health.RecordFailure()
			return nil, ragerr.Errorf(ragerr.CodeEmbedResponseInvalid,
				"%s returned %d vectors for %d texts", c.backend.Name(), len(vecs), end-start)
		}
		for _, v := range vecs {
			out = append(out, AdjustDimensions(v, c.dim))
		}
	}

	c.health.RecordSuccess()
	return out, nil
}

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
