// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/vector"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// RetrieveRequest selects what to search. Zero TopK and nil Threshold use
// the service defaults; no Namespaces means the default RAG, or every RAG
// when no default is set.
type RetrieveRequest struct {
	Query      string
	Namespaces []string
	TopK       int
	Threshold  *float32
}

// Source identifies where a retrieved chunk came from.
type Source struct {
	Namespace  string  `json:"rag_name"`
	ID         string  `json:"id"`
	FileName   string  `json:"file_name"`
	Source     string  `json:"source,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// Match is a ranked chunk with its text.
type Match struct {
	Source
	Content string `json:"content"`
}

// Skipped records a namespace left out of a search and why.
type Skipped struct {
	Namespace string `json:"rag_name"`
	Reason    string `json:"reason"`
}

// Retrieval is the ranked result of a search.
type Retrieval struct {
	Query      string    `json:"query"`
	Namespaces []string  `json:"rag_names"`
	Matches    []Match   `json:"matches"`
	Context    string    `json:"context"`
	Skipped    []Skipped `json:"skipped"`
}

// AskRequest is a question answered from retrieved context.
type AskRequest struct {
	Query      string
	Namespaces []string
	TopK       int
	Threshold  *float32
	Model      string // "provider/model"; empty uses the configured default
	RequestID  string
}

// Answer is the generated response and what it was built from.
type Answer struct {
	Response  string         `json:"response"`
	Sources   []Source       `json:"sources"`
	Usage     provider.Usage `json:"usage"`
	Model     string         `json:"model"`
	Skipped   []Skipped      `json:"skipped"`
	RequestID string         `json:"request_id"`
}

type namespaceResult struct {
	matches []vector.Match
	err     error
}

// Retrieve embeds the query once, searches every selected namespace
// concurrently and ranks the union by cosine similarity. A namespace that
// is missing or whose backend fails is skipped; the call only fails when
// none could be searched.
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) (Retrieval, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Retrieval{}, ragerr.New(ragerr.CodeRAGInvalidInput, "query is required")
	}

	namespaces, err := s.resolveNamespaces(ctx, req.Namespaces)
	if err != nil {
		return Retrieval{}, err
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return Retrieval{}, err
	}
	if len(vecs) != 1 {
		return Retrieval{}, ragerr.Errorf(ragerr.CodeEmbedResponseInvalid, "embedder returned %d vectors for 1 query", len(vecs))
	}
	qvec := vecs[0]

	results := make([]namespaceResult, len(namespaces))
	var wg sync.WaitGroup
	for i, ns := range namespaces {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.store.Query(ctx, ns, qvec, s.retrieval.PerNamespaceK)
			results[i] = namespaceResult{matches: m, err: err}
		}()
	}
	wg.Wait()

	out := Retrieval{
		Query:      query,
		Namespaces: namespaces,
		Matches:    []Match{},
		Skipped:    []Skipped{},
	}
	threshold := s.retrieval.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	allMissing := true
	for i, r := range results {
		ns := namespaces[i]
		if r.err != nil {
			slog.Warn("skipping namespace", "namespace", ns, "error", r.err)
			out.Skipped = append(out.Skipped, Skipped{Namespace: ns, Reason: r.err.Error()})
			allMissing = allMissing && ragerr.IsNotFound(r.err)
			continue
		}
		for _, m := range r.matches {
			score := m.Score
			if len(m.Values) == len(qvec) {
				score = vector.Cosine(qvec, m.Values)
			}
			if score < threshold {
				continue
			}
			out.Matches = append(out.Matches, Match{
				Source: Source{
					Namespace:  ns,
					ID:         m.ID,
					FileName:   vector.MetadataString(m.Metadata, vector.MetaFileName),
					Source:     vector.MetadataString(m.Metadata, MetaSource),
					ChunkIndex: metaInt(m.Metadata, MetaChunkIndex),
					Score:      score,
				},
				Content: vector.MetadataString(m.Metadata, vector.MetaContent),
			})
		}
	}

	if len(out.Skipped) == len(namespaces) {
		if err := ctx.Err(); err != nil {
			return Retrieval{}, ragerr.Wrap(err, ragerr.CodeRAGUnavailable, "retrieval cancelled")
		}
		if allMissing {
			return Retrieval{}, ragerr.New(ragerr.CodeRAGNotFound,
				"RAG not found: "+strings.Join(namespaces, ", "), ragerr.FieldNamespace(namespaces[0]))
		}
		return Retrieval{}, ragerr.New(ragerr.CodeRAGUnavailable,
			fmt.Sprintf("no RAG could be searched: %s", out.Skipped[0].Reason))
	}

	slices.SortStableFunc(out.Matches, func(a, b Match) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.Namespace, b.Namespace),
			cmp.Compare(a.ID, b.ID),
		)
	})

	topK := req.TopK
	if topK <= 0 {
		topK = s.retrieval.TopK
	}
	if len(out.Matches) > topK {
		out.Matches = out.Matches[:topK]
	}

	parts := make([]string, len(out.Matches))
	for i, m := range out.Matches {
		parts[i] = m.Content
	}
	out.Context = truncateRunes(strings.Join(parts, contextSeparator), s.retrieval.MaxContextChars)
	return out, nil
}

// Ask retrieves context for req.Query and has the LLM answer from it.
// With no matching context the model is still asked, and told so.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	retrieval, err := s.Retrieve(ctx, RetrieveRequest{
		Query:      req.Query,
		Namespaces: req.Namespaces,
		TopK:       req.TopK,
		Threshold:  req.Threshold,
	})
	if err != nil {
		return Answer{}, err
	}
	if s.providers == nil {
		return Answer{}, ragerr.New(ragerr.CodeProviderNoDefault, "no LLM provider configured")
	}

	gen, err := provider.Generate(ctx, s.providers, s.chatRequest(req.Model, retrieval))
	if err != nil {
		return Answer{}, ragerr.Wrap(err, ragerr.CodeRAGGenerateFailure, "generating answer")
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	sources := sourcesOf(retrieval.Matches)

	slog.Info("answered query",
		"request_id", requestID,
		"model", gen.Provider+"/"+gen.Model,
		"sources", len(sources),
		"input_tokens", gen.Usage.InputTokens,
		"output_tokens", gen.Usage.OutputTokens,
	)
	return Answer{
		Response:  gen.Text,
		Sources:   sources,
		Usage:     gen.Usage,
		Model:     gen.Provider + "/" + gen.Model,
		Skipped:   retrieval.Skipped,
		RequestID: requestID,
	}, nil
}

// AnswerStream is an answer whose text arrives as provider chat events.
// Events is closed when generation ends.
type AnswerStream struct {
	Sources   []Source
	Skipped   []Skipped
	Model     string
	RequestID string
	Events    <-chan provider.ChatEvent
}

// AskStream is Ask with the LLM response streamed. The provider is chosen
// once up front; a stream that fails part way is not retried elsewhere.
func (s *Service) AskStream(ctx context.Context, req AskRequest) (*AnswerStream, error) {
	retrieval, err := s.Retrieve(ctx, RetrieveRequest{
		Query:      req.Query,
		Namespaces: req.Namespaces,
		TopK:       req.TopK,
		Threshold:  req.Threshold,
	})
	if err != nil {
		return nil, err
	}
	if s.providers == nil {
		return nil, ragerr.New(ragerr.CodeProviderNoDefault, "no LLM provider configured")
	}

	p, model, err := s.providers.Route(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	events, err := p.Chat(ctx, s.chatRequest(model, retrieval))
	if err != nil {
		err = ragerr.Wrap(err, ragerr.CodeRAGGenerateFailure, "starting answer stream", ragerr.FieldProvider(p.Name()))
		provider.RecordOutcome(ctx, p, err)
		return nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &AnswerStream{
		Sources:   sourcesOf(retrieval.Matches),
		Skipped:   retrieval.Skipped,
		Model:     p.Name() + "/" + model,
		RequestID: requestID,
		Events:    provider.ReportStream(ctx, p, events),
	}, nil
}

func (s *Service) chatRequest(model string, retrieval Retrieval) provider.ChatRequest {
	return provider.ChatRequest{
		Model:        model,
		SystemPrompt: s.generation.SystemPrompt,
		Messages: []provider.Message{
			{Role: provider.MessageRoleUser, Content: buildPrompt(retrieval.Context, retrieval.Query)},
		},
		Options: provider.ChatOptions{
			Temperature: s.generation.Temperature,
			MaxTokens:   s.generation.MaxTokens,
		},
	}
}

func sourcesOf(matches []Match) []Source {
	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = m.Source
	}
	return sources
}

func buildPrompt(contextText, query string) string {
	var b strings.Builder
	if contextText == "" {
		b.WriteString("No relevant context was found in the selected documents. ")
		b.WriteString("Say so if you cannot answer without it.\n\n")
	} else {
		b.WriteString("Context:\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// resolveNamespaces dedupes explicit names, or falls back to the default
// RAG and then to every known namespace.
func (s *Service) resolveNamespaces(ctx context.Context, requested []string) ([]string, error) {
	var names []string
	for _, ns := range requested {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		if err := checkName(ns); err != nil {
			return nil, err
		}
		if !slices.Contains(names, ns) {
			names = append(names, ns)
		}
	}
	if len(names) > 0 {
		return names, nil
	}

	def, ok, err := s.DefaultRAG()
	if err != nil {
		return nil, err
	}
	if ok {
		return []string{def}, nil
	}

	infos, err := s.store.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		names = append(names, info.Name)
	}
	if len(names) == 0 {
		return nil, ragerr.New(ragerr.CodeRAGNoNamespace, "no RAG available: create one or set a default")
	}
	return names, nil
}
