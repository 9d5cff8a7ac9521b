// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openrouter registers OpenRouter's OpenAI-compatible gateway.
package openrouter

import (
	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/provider/openai"
)

const baseURL = "https://openrouter.ai/api/v1"

// knownModels is a curated set of popular models available via OpenRouter.
// Model ids keep OpenRouter's vendor prefix, so a full ref reads
// "openrouter/anthropic/claude-sonnet-4-5".
var knownModels = []provider.ModelInfo{
	{
		ID:       "anthropic/claude-sonnet-4-5",
		Name:     "Claude Sonnet 4.5",
		Provider: "openrouter",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			SupportsThinking:  true,
			MaxContextTokens:  200000,
			MaxOutputTokens:   16000,
		},
	},
	{
		ID:       "google/gemini-2.5-pro",
		Name:     "Gemini 2.5 Pro",
		Provider: "openrouter",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			SupportsThinking:  true,
			MaxContextTokens:  1000000,
			MaxOutputTokens:   65536,
		},
	},
	{
		ID:       "meta-llama/llama-4-maverick",
		Name:     "Llama 4 Maverick",
		Provider: "openrouter",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			MaxContextTokens:  128000,
			MaxOutputTokens:   32768,
		},
	},
}

// New creates an OpenRouter provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*openai.Provider, error) {
	return openai.NewCompatible("openrouter", cfg, baseURL, knownModels)
}
