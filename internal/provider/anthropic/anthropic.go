// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ragd-dev/ragd/internal/provider"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

const defaultMaxTokens = 4096

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	health *health.Tracker
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.HealthReporter = (*Provider)(nil)
)

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, ragerr.New(ragerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config", ragerr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		health: health.NewDefaultTracker(),
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

func (p *Provider) RecordFailure()                { p.health.RecordFailure() }
func (p *Provider) RecordSuccess()                { p.health.RecordSuccess() }
func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

var knownModels = []provider.ModelInfo{
	{
		ID:       "claude-opus-4-6",
		Name:     "Claude Opus 4.6",
		Provider: "anthropic",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			SupportsThinking:  true,
			MaxContextTokens:  200000,
			MaxOutputTokens:   32000,
		},
	},
	{
		ID:       "claude-sonnet-4-5",
		Name:     "Claude Sonnet 4.5",
		Provider: "anthropic",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			SupportsThinking:  true,
			MaxContextTokens:  200000,
			MaxOutputTokens:   16000,
		},
	},
	{
		ID:       "claude-haiku-4-5",
		Name:     "Claude Haiku 4.5",
		Provider: "anthropic",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			MaxContextTokens:  200000,
			MaxOutputTokens:   8192,
		},
	},
}

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return append([]provider.ModelInfo(nil), knownModels...), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := buildParams(req)
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
		Provider:  "anthropic",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.ChatRequest into Anthropic SDK MessageNewParams.
// System-role messages are folded into the top-level system prompt.
func buildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	if req.Model == "" {
		return anthropicsdk.MessageNewParams{}, ragerr.New(ragerr.CodeProviderRequestInvalid, "anthropic: model is required")
	}

	system := req.SystemPrompt
	var msgs []anthropicsdk.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleUser:
			msgs = append(msgs, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case provider.MessageRoleAssistant:
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case provider.MessageRoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		default:
			return anthropicsdk.MessageNewParams{}, ragerr.Errorf(ragerr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	return params, nil
}

// streamChat runs the streaming loop, converting SDK events into provider.ChatEvent values.
// Input tokens arrive on message_start and output tokens on message_delta,
// so usage is merged and emitted once at the end.
func (p *Provider) streamChat(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var usage provider.Usage
	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			u := event.Message.Usage
			usage.InputTokens = int(u.InputTokens)
			usage.OutputTokens = int(u.OutputTokens)
			usage.CacheReadTokens = int(u.CacheReadInputTokens)
			usage.CacheWriteTokens = int(u.CacheCreationInputTokens)

		case "content_block_delta":
			if event.Delta.Type == "text_delta" {
				if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: event.Delta.Text}) {
					return
				}
			}

		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(event.Usage.OutputTokens)
			}

		case "message_stop":
			finish(ctx, ch, usage)
			return
		}
	}

	if err := stream.Err(); err != nil {
		provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
		return
	}
	finish(ctx, ch, usage)
}

func finish(ctx context.Context, ch chan<- provider.ChatEvent, usage provider.Usage) {
	if provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &usage}) {
		provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone})
	}
}
