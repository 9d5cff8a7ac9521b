// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/pkg/health"
)

// mockProviderBase provides a reusable base implementation of provider.Provider
// for use in tests. Embed this in test-specific mocks and override methods as needed.
type mockProviderBase struct {
	name      string
	available bool
	models    []provider.ModelInfo
	closeErr  error
	closed    atomic.Bool
}

func newMockProviderBase(name string, available bool) *mockProviderBase {
	return &mockProviderBase{name: name, available: available}
}

func (m *mockProviderBase) Name() string {
	return m.name
}

func (m *mockProviderBase) Available(context.Context) bool {
	return m.available
}

func (m *mockProviderBase) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return m.models, nil
}

func (m *mockProviderBase) Chat(_ context.Context, _ provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return stream(
		provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "hello"},
		provider.ChatEvent{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 5}},
		provider.ChatEvent{Type: provider.EventTypeDone},
	), nil
}

func (m *mockProviderBase) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: m.available, Provider: m.name, Message: "ok"}, nil
}

func (m *mockProviderBase) Close() error {
	m.closed.Store(true)
	return m.closeErr
}

// mockProviderWithHealth extends mockProviderBase with health tracking
// and a scriptable Chat.
type mockProviderWithHealth struct {
	*mockProviderBase
	healthTracker *health.Tracker
	chatFunc      func(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error)
	requests      []provider.ChatRequest
}

func newMockProviderWithHealth(name string, tracker *health.Tracker) *mockProviderWithHealth {
	return &mockProviderWithHealth{
		mockProviderBase: newMockProviderBase(name, true),
		healthTracker:    tracker,
	}
}

func (m *mockProviderWithHealth) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	m.requests = append(m.requests, req)
	if m.chatFunc != nil {
		return m.chatFunc(ctx, req)
	}
	return m.mockProviderBase.Chat(ctx, req)
}

func (m *mockProviderWithHealth) RecordFailure() { m.healthTracker.RecordFailure() }
func (m *mockProviderWithHealth) RecordSuccess() { m.healthTracker.RecordSuccess() }

func (m *mockProviderWithHealth) HealthMetrics() health.Metrics {
	return m.healthTracker.HealthMetrics()
}

func (m *mockProviderWithHealth) Available(context.Context) bool {
	return m.healthTracker.IsHealthy()
}

func stream(events ...provider.ChatEvent) <-chan provider.ChatEvent {
	ch := make(chan provider.ChatEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func failingChat(msg string) func(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	return func(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
		return stream(provider.ChatEvent{Type: provider.EventTypeError, Error: msg}), nil
	}
}

var errBoom = errors.New("boom")

func newTracker(t *testing.T, cooldown time.Duration) *health.Tracker {
	t.Helper()
	h, err := health.NewTracker(cooldown, cooldown)
	require.NoError(t, err)
	return h
}
