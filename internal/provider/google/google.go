// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"

	"google.golang.org/genai"

	"github.com/ragd-dev/ragd/internal/provider"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/ragd-dev/ragd/pkg/health"
)

// Provider implements provider.Provider using the Google Gemini API.
type Provider struct {
	client *genai.Client
	health *health.Tracker
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.HealthReporter = (*Provider)(nil)
)

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, ragerr.New(ragerr.CodeProviderRequestInvalid, "google: missing api_key in config", ragerr.FieldProvider("google"))
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	return &Provider{client: client, health: health.NewDefaultTracker()}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

func (p *Provider) RecordFailure()                { p.health.RecordFailure() }
func (p *Provider) RecordSuccess()                { p.health.RecordSuccess() }
func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

var knownModels = []provider.ModelInfo{
	{
		ID:       "gemini-2.5-pro",
		Name:     "Gemini 2.5 Pro",
		Provider: "google",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			SupportsThinking:  true,
			MaxContextTokens:  1000000,
			MaxOutputTokens:   65536,
		},
	},
	{
		ID:       "gemini-2.5-flash",
		Name:     "Gemini 2.5 Flash",
		Provider: "google",
		Capabilities: provider.ModelCapabilities{
			SupportsStreaming: true,
			SupportsThinking:  true,
			MaxContextTokens:  1000000,
			MaxOutputTokens:   65536,
		},
	},
}

func (p *Provider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return append([]provider.ModelInfo(nil), knownModels...), nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, config, err := buildRequest(req)
	if err != nil {
		return nil, err
	}

	eventCh := make(chan provider.ChatEvent, 100)
	go func() {
		defer close(eventCh)
		p.streamChat(ctx, req.Model, contents, config, eventCh)
	}()
	return eventCh, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  "google",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildRequest converts a provider.ChatRequest into genai contents and config.
// Gemini calls the assistant role "model"; system messages join the
// SystemInstruction.
func buildRequest(req provider.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if req.Model == "" {
		return nil, nil, ragerr.New(ragerr.CodeProviderRequestInvalid, "google: model is required")
	}

	cfg := &genai.GenerateContentConfig{}
	var system []*genai.Part
	if req.SystemPrompt != "" {
		system = append(system, &genai.Part{Text: req.SystemPrompt})
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case provider.MessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case provider.MessageRoleSystem:
			system = append(system, &genai.Part{Text: msg.Content})
		default:
			return nil, nil, ragerr.Errorf(ragerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}

	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if req.Options.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	if len(req.Options.StopSequences) > 0 {
		cfg.StopSequences = req.Options.StopSequences
	}
	return contents, cfg, nil
}

// streamChat runs the streaming loop, converting SDK responses into provider.ChatEvent values.
// Every chunk repeats cumulative usage; only the last one is forwarded.
func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.ChatEvent,
) {
	var usage *provider.Usage
	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text == "" || part.Thought {
					continue
				}
				if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: part.Text}) {
					return
				}
			}
		}

		if result.UsageMetadata != nil {
			usage = &provider.Usage{
				InputTokens:     int(result.UsageMetadata.PromptTokenCount),
				OutputTokens:    int(result.UsageMetadata.CandidatesTokenCount),
				CacheReadTokens: int(result.UsageMetadata.CachedContentTokenCount),
			}
		}
	}

	if usage != nil && !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeUsage, Usage: usage}) {
		return
	}
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone})
}
