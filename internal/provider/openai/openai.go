// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/ragd-dev/ragd/internal/provider"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

// Provider implements provider.Provider using the OpenAI Chat Completions
// API. It also serves OpenAI-compatible gateways through NewCompatible.
type Provider struct {
	name   string
	client openaisdk.Client
	models []provider.ModelInfo
	health *health.Tracker
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.HealthReporter = (*Provider)(nil)
)

var knownModels = []provider.ModelInfo{
	{
		ID:       "gpt-4.1",
		Name:     "GPT-4.1",
		Provider: "openai",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			MaxContextTokens:  128000,
			MaxOutputTokens:   32768,
		},
	},
	{
		ID:       "gpt-4.1-mini",
		Name:     "GPT-4.1 Mini",
		Provider: "openai",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			MaxContextTokens:  128000,
			MaxOutputTokens:   16384,
		},
	},
	{
		ID:       "o4-mini",
		Name:     "o4-mini",
		Provider: "openai",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			SupportsThinking:  true,
			MaxContextTokens:  200000,
			MaxOutputTokens:   100000,
		},
	},
}

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Provider, error) {
	return NewCompatible("openai", cfg, "", knownModels)
}

// NewCompatible creates a provider for an OpenAI-compatible endpoint.
// defaultBaseURL applies when cfg.BaseURL is empty; an empty default keeps
// the SDK's own.
func NewCompatible(name string, cfg provider.Config, defaultBaseURL string, models []provider.ModelInfo) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, ragerr.New(ragerr.CodeProviderRequestInvalid, name+": missing api_key in config", ragerr.FieldProvider(name))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	base := defaultBaseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &Provider{
		name:   name,
		client: openaisdk.NewClient(opts...),
		models: models,
		health: health.NewDefaultTracker(),
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

func (p *Provider) RecordFailure()                { p.health.RecordFailure() }
func (p *Provider) RecordSuccess()                { p.health.RecordSuccess() }
func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return append([]provider.ModelInfo(nil), p.models...), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := buildParams(p.name, req)
	if err != nil {
		return nil, err
	}

	eventCh := make(chan provider.ChatEvent, 100)
	go func() {
		defer close(eventCh)
		p.streamChat(ctx, params, eventCh)
	}()
	return eventCh, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  p.name,
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.ChatRequest into OpenAI SDK ChatCompletionNewParams.
// The system prompt is prepended as a system message if present.
func buildParams(name string, req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return openaisdk.ChatCompletionNewParams{}, ragerr.New(ragerr.CodeProviderRequestInvalid, name+": model is required")
	}

	var msgs []openaisdk.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleUser:
			msgs = append(msgs, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			msgs = append(msgs, openaisdk.AssistantMessage(msg.Content))
		case provider.MessageRoleSystem:
			msgs = append(msgs, openaisdk.SystemMessage(msg.Content))
		default:
			return openaisdk.ChatCompletionNewParams{}, ragerr.Errorf(ragerr.CodeProviderRequestInvalid, "%s: unsupported message role %q", name, msg.Role)
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Options.StopSequences,
		}
	}
	return params, nil
}

// streamChat runs the streaming loop, converting SDK chunks into provider.ChatEvent values.
func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var usage *provider.Usage
	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: choice.Delta.Content}) {
				return
			}
		}

		// With include_usage the final chunk carries usage and no choices.
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = &provider.Usage{
				InputTokens:     int(chunk.Usage.PromptTokens),
				OutputTokens:    int(chunk.Usage.CompletionTokens),
				CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			}
		}
	}

	if err := stream.Err(); err != nil {
		provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
		return
	}
	if usage != nil && !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeUsage, Usage: usage}) {
		return
	}
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone})
}
