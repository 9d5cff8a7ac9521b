// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragd-dev/ragd/internal/chunk"
	"github.com/ragd-dev/ragd/internal/ingest"
	"github.com/ragd-dev/ragd/internal/vector"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Metadata keys written on every ingested record.
const (
	MetaSource              = "source"
	MetaChunkIndex          = "chunk_index"
	MetaEmbeddingChunkIndex = "embedding_chunk_index"
	MetaContentPart         = "content_part"
	MetaRAGName             = "rag_name"
	MetaIngestedAt          = "ingested_at"
	MetaIngestionID         = "ingestion_id"
)

// IngestResult summarizes one ingested source.
type IngestResult struct {
	Namespace   string `json:"rag_name"`
	Source      string `json:"source"`
	FileName    string `json:"file_name"`
	Chunks      int    `json:"chunks"`
	Vectors     int    `json:"vectors"`
	IngestionID string `json:"ingestion_id"`
}

// IngestFile extracts a .pdf or .txt file and stores it in ns.
func (s *Service) IngestFile(ctx context.Context, ns, path string) (IngestResult, error) {
	if err := checkName(ns); err != nil {
		return IngestResult{}, err
	}
	text, err := ingest.ExtractFile(path)
	if err != nil {
		return IngestResult{}, err
	}
	return s.ingest(ctx, ns, path, filepath.Base(path), text)
}

// IngestText stores already-extracted text under source. The file name
// recorded for the vectors is the base name of source.
func (s *Service) IngestText(ctx context.Context, ns, source, text string) (IngestResult, error) {
	if err := checkName(ns); err != nil {
		return IngestResult{}, err
	}
	if strings.TrimSpace(source) == "" {
		return IngestResult{}, ragerr.New(ragerr.CodeRAGInvalidInput, "source is required", ragerr.FieldNamespace(ns))
	}
	return s.ingest(ctx, ns, source, filepath.Base(source), text)
}

// IngestURL fetches rawURL, saves the extracted text under the data folder
// and stores it in ns. The stored file name is derived from the host alone
// (<domain>.txt), so a later URL on the same host supersedes the earlier
// one's vectors and saved text.
func (s *Service) IngestURL(ctx context.Context, ns, rawURL string) (IngestResult, error) {
	if err := checkName(ns); err != nil {
		return IngestResult{}, err
	}
	text, err := s.fetcher.ExtractURL(ctx, rawURL)
	if err != nil {
		return IngestResult{}, err
	}

	domain, err := ingest.DomainName(rawURL)
	if err != nil {
		return IngestResult{}, err
	}
	fileName := domain + ".txt"
	if s.dataFolder != "" {
		path, err := ingest.SaveExtracted(s.dataFolder, rawURL, text)
		if err != nil {
			return IngestResult{}, err
		}
		slog.Info("saved extracted url text", "url", rawURL, "path", path)
		fileName = filepath.Base(path)
	}
	return s.ingest(ctx, ns, rawURL, fileName, text)
}

func (s *Service) ingest(ctx context.Context, ns, source, fileName, raw string) (IngestResult, error) {
	text := ingest.CleanText(raw)
	if text == "" {
		return IngestResult{}, ragerr.New(ragerr.CodeIngestExtractEmpty,
			"no text could be extracted from "+fileName, ragerr.FieldSource(source))
	}

	chunks := s.chunker.Split(text)
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}

	vecs, err := s.embedder.Embed(ctx, contents)
	if err != nil {
		return IngestResult{}, ragerr.With(err, ragerr.FieldNamespace(ns), ragerr.FieldSource(source))
	}

	result := IngestResult{
		Namespace:   ns,
		Source:      source,
		FileName:    fileName,
		Chunks:      len(chunks),
		IngestionID: uuid.NewString(),
	}
	base := map[string]any{
		vector.MetaFileName: fileName,
		MetaSource:          source,
		MetaRAGName:         ns,
		MetaIngestedAt:      time.Now().UTC().Format(time.RFC3339),
		MetaIngestionID:     result.IngestionID,
	}

	var records []vector.Record
	for i, c := range chunks {
		recs, err := s.buildRecords(base, fileName, c, vecs[i])
		if err != nil {
			return IngestResult{}, ragerr.With(err, ragerr.FieldNamespace(ns), ragerr.FieldSource(source))
		}
		records = append(records, recs...)
	}

	if err := s.store.EnsureNamespace(ctx, ns); err != nil {
		return IngestResult{}, err
	}
	removed, err := s.store.DeleteSource(ctx, ns, fileName)
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.store.Upsert(ctx, ns, records); err != nil {
		return IngestResult{}, err
	}

	result.Vectors = len(records)
	slog.Info("ingested source",
		"namespace", ns,
		"source", source,
		"chunks", result.Chunks,
		"vectors", result.Vectors,
		"superseded", removed,
	)
	return result, nil
}

// buildRecords turns one chunk into one record, or several when its
// metadata would exceed the configured limit. Split records share the
// chunk's vector and carry an "_<k>" id suffix.
func (s *Service) buildRecords(base map[string]any, fileName string, c chunk.Chunk, vec []float32) ([]vector.Record, error) {
	id := fmt.Sprintf("%s-chunk-%d-%d", strings.TrimSuffix(fileName, filepath.Ext(fileName)), c.Index, 0)

	md := make(map[string]any, len(base)+3)
	for k, v := range base {
		md[k] = v
	}
	md[MetaChunkIndex] = c.Index
	md[MetaEmbeddingChunkIndex] = 0
	md[vector.MetaContent] = c.Content

	size, err := jsonSize(md)
	if err != nil {
		return nil, err
	}
	if size <= s.metaLimit {
		return []vector.Record{{ID: id, Values: vec, Metadata: md}}, nil
	}

	pieces, err := s.splitContent(md, c.Content)
	if err != nil {
		return nil, err
	}
	slog.Warn("metadata exceeds limit, splitting record",
		"id", id, "bytes", size, "limit", s.metaLimit, "pieces", len(pieces))

	records := make([]vector.Record, len(pieces))
	for k, piece := range pieces {
		pmd := make(map[string]any, len(md)+1)
		for key, v := range md {
			pmd[key] = v
		}
		pmd[vector.MetaContent] = piece
		pmd[MetaContentPart] = k
		records[k] = vector.Record{ID: fmt.Sprintf("%s_%d", id, k), Values: vec, Metadata: pmd}
	}
	return records, nil
}

// splitContent finds the largest piece size at which every piece's
// metadata fits the limit. JSON escaping can grow content, so the size is
// halved until it fits.
func (s *Service) splitContent(md map[string]any, content string) ([]string, error) {
	probe := make(map[string]any, len(md)+1)
	for k, v := range md {
		probe[k] = v
	}
	probe[vector.MetaContent] = ""
	probe[MetaContentPart] = 0
	overhead, err := jsonSize(probe)
	if err != nil {
		return nil, err
	}

	for room := s.metaLimit - overhead - 8; room > 0; room /= 2 {
		pieces := chunk.SplitBytes(content, room)
		fits := true
		for _, p := range pieces {
			probe[vector.MetaContent] = p
			probe[MetaContentPart] = len(pieces)
			n, err := jsonSize(probe)
			if err != nil {
				return nil, err
			}
			if n > s.metaLimit {
				fits = false
				break
			}
		}
		if fits {
			return pieces, nil
		}
	}
	return nil, ragerr.Errorf(ragerr.CodeRAGInvalidInput,
		"record metadata cannot fit within %d bytes", s.metaLimit)
}

func jsonSize(md map[string]any) (int, error) {
	b, err := json.Marshal(md)
	if err != nil {
		return 0, ragerr.Wrap(err, ragerr.CodeRAGIngestFailure, "encoding record metadata")
	}
	return len(b), nil
}
