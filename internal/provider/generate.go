// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"strings"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Generation is the collected result of a chat stream.
type Generation struct {
	Text     string
	Usage    Usage
	Provider string
	Model    string
}

// Generate routes req through the registry and drains the response stream.
// Upstream failures move on to the next provider in the failover chain;
// any other error is returned immediately.
func Generate(ctx context.Context, reg *Registry, req ChatRequest) (Generation, error) {
	var (
		tried   []string
		lastErr error
	)

	for range reg.MaxAttempts() {
		p, model, err := reg.RouteExcluding(ctx, req.Model, tried)
		if err != nil {
			if lastErr != nil && ragerr.IsUnavailable(err) {
				return Generation{}, lastErr
			}
			return Generation{}, err
		}
		tried = append(tried, p.Name())

		attempt := req
		attempt.Model = model

		gen, err := collect(ctx, p, attempt)
		RecordOutcome(ctx, p, err)
		if err == nil {
			gen.Provider = p.Name()
			gen.Model = model
			return gen, nil
		}
		if ctx.Err() != nil || !ragerr.IsUpstreamFailure(err) {
			return Generation{}, err
		}
		lastErr = err
	}

	return Generation{}, lastErr
}

// RecordOutcome reports the result of a call to p when p tracks its own
// health. Only upstream failures count against the provider, and nothing is
// recorded once ctx is done since the caller went away.
func RecordOutcome(ctx context.Context, p Provider, err error) {
	hr, ok := p.(HealthReporter)
	if !ok || ctx.Err() != nil {
		return
	}
	switch {
	case err == nil:
		hr.RecordSuccess()
	case ragerr.IsUpstreamFailure(err):
		hr.RecordFailure()
	}
}

// ReportStream forwards events unchanged and, once the stream ends, reports
// its outcome to p the way Generate does. An error event counts as an
// upstream failure. The returned channel is closed after events is.
func ReportStream(ctx context.Context, p Provider, events <-chan ChatEvent) <-chan ChatEvent {
	if _, ok := p.(HealthReporter); !ok {
		return events
	}
	out := make(chan ChatEvent)
	go func() {
		defer close(out)
		var (
			streamErr error
			forward   = true
		)
		for ev := range events {
			if ev.Type == EventTypeError {
				streamErr = ragerr.New(ragerr.CodeProviderUpstreamFailure, ev.Error, ragerr.FieldProvider(p.Name()))
			}
			if !forward {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				forward = false
			}
		}
		RecordOutcome(ctx, p, streamErr)
	}()
	return out
}

func collect(ctx context.Context, p Provider, req ChatRequest) (Generation, error) {
	events, err := p.Chat(ctx, req)
	if err != nil {
		if ragerr.CodeOf(err) == "" {
			err = ragerr.Wrap(err, ragerr.CodeProviderUpstreamFailure, "starting chat", ragerr.FieldProvider(p.Name()))
		}
		return Generation{}, err
	}

	var (
		text strings.Builder
		gen  Generation
	)
	for {
		select {
		case <-ctx.Done():
			return Generation{}, ragerr.Wrap(ctx.Err(), ragerr.CodeProviderUpstreamFailure, "chat cancelled", ragerr.FieldProvider(p.Name()))
		case ev, ok := <-events:
			if !ok {
				gen.Text = text.String()
				return gen, nil
			}
			switch ev.Type {
			case EventTypeTextDelta:
				text.WriteString(ev.Text)
			case EventTypeUsage:
				if ev.Usage != nil {
					gen.Usage = *ev.Usage
				}
			case EventTypeError:
				return Generation{}, ragerr.New(ragerr.CodeProviderUpstreamFailure, ev.Error, ragerr.FieldProvider(p.Name()))
			}
		}
	}
}
