// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/rag"
)

// SSEEventType names a server-sent event.
type SSEEventType string

const (
	EventSources   SSEEventType = "sources"
	EventTextDelta SSEEventType = "text_delta"
	EventUsage     SSEEventType = "usage"
	EventError     SSEEventType = "error"
	EventDone      SSEEventType = "done"
)

// SSEEvent represents a single server-sent event.
type SSEEvent struct {
	Event SSEEventType `json:"event"`
	Data  string       `json:"data"`
}

// sourcesPayload opens every stream.
type sourcesPayload struct {
	Sources   []rag.Source  `json:"sources"`
	Skipped   []rag.Skipped `json:"skipped"`
	Model     string        `json:"model"`
	RequestID string        `json:"request_id"`
}

// validateEventType rejects names that would break SSE framing.
func validateEventType(t SSEEventType) bool {
	return !strings.ContainsAny(string(t), "\r\n")
}

func (s *Server) registerStreamRoute() {
	s.router.Post("/api/v1/ask/stream", s.handleAskStream)

	minQueryLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "ask-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/ask/stream",
		Summary:     "Stream an answer via SSE",
		Description: "Events: sources, text_delta, usage, error, done. Set Accept: text/event-stream for SSE, otherwise receives a JSON array of events.",
		Tags:        []string{"query"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"query"},
						Properties: map[string]*huma.Schema{
							"query":     {Type: "string", MinLength: &minQueryLen, Description: "Natural-language question"},
							"rag_names": {Type: "array", Items: &huma.Schema{Type: "string"}, Description: "Namespaces to search"},
							"top_k":     {Type: "integer", Description: "Number of chunks used as context"},
							"threshold": {Type: "number", Description: "Minimum cosine similarity"},
							"model":     {Type: "string", Description: "provider/model"},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Streaming response (SSE or JSON depending on Accept header)",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"},
					},
					"application/json": {
						Schema: &huma.Schema{
							Type: "object",
							Properties: map[string]*huma.Schema{
								"events": {
									Type:        "array",
									Description: "Collected events as JSON objects",
									Items:       &huma.Schema{Type: "object"},
								},
							},
						},
					},
				},
			},
			"400": {Description: "Missing query"},
		},
	})
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Retrieval and routing errors happen before the first byte, so they
	// still get a proper status code.
	stream, err := s.services.rag.AskStream(r.Context(), body.request(r.Context()))
	if err != nil {
		writeProblem(w, statusOf(err), err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch := make(chan SSEEvent, 16)
	go relay(ctx, stream, ch)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeSSE(w, ch)
		return
	}
	writeEventsJSON(w, ch)
}

// relay turns provider chat events into SSE events and closes ch.
func relay(ctx context.Context, stream *rag.AnswerStream, ch chan<- SSEEvent) {
	defer close(ch)
	// Drain so the provider goroutine can finish.
	defer func() {
		if stream.Events != nil {
			for range stream.Events {
			}
		}
	}()
	send := func(t SSEEventType, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			data = []byte(`{}`)
		}
		select {
		case ch <- SSEEvent{Event: t, Data: string(data)}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(EventSources, sourcesPayload{
		Sources:   stream.Sources,
		Skipped:   stream.Skipped,
		Model:     stream.Model,
		RequestID: stream.RequestID,
	}) {
		return
	}

	for ev := range stream.Events {
		var ok bool
		switch ev.Type {
		case provider.EventTypeTextDelta:
			ok = send(EventTextDelta, map[string]string{"text": ev.Text})
		case provider.EventTypeUsage:
			if ev.Usage == nil {
				continue
			}
			ok = send(EventUsage, ev.Usage)
		case provider.EventTypeError:
			slog.Warn("answer stream failed", "request_id", stream.RequestID, "error", ev.Error)
			ok = send(EventError, map[string]string{"error": ev.Error})
		case provider.EventTypeDone:
			ok = send(EventDone, map[string]string{"request_id": stream.RequestID})
		default:
			continue
		}
		if !ok {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ch <-chan SSEEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for event := range ch {
		if !validateEventType(event.Event) {
			slog.Warn("dropping sse event with invalid type", "event", event.Event)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, event.Data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeEventsJSON(w http.ResponseWriter, ch <-chan SSEEvent) {
	type wireEvent struct {
		Event SSEEventType    `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	events := []wireEvent{}
	for event := range ch {
		raw := []byte(event.Data)
		if !json.Valid(raw) {
			raw, _ = json.Marshal(event.Data)
		}
		events = append(events, wireEvent{Event: event.Event, Data: raw})
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Events []wireEvent `json:"events"`
	}{Events: events}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to write events response", "error", err)
	}
}
