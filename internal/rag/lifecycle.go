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

	"github.com/ragd-dev/ragd/internal/ingest"
	"github.com/ragd-dev/ragd/internal/vector"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

const (
	summaryScanLimit = 1000
	summarySamples   = 5
	previewChars     = 100
)

// SkippedFile is a document CreateRAG could not ingest.
type SkippedFile struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// CreateResult reports a freshly built RAG.
type CreateResult struct {
	Namespace    string        `json:"rag_name"`
	TotalFiles   int           `json:"total_files"`
	TotalVectors int           `json:"total_vectors"`
	FilesSkipped []SkippedFile `json:"files_skipped"`
}

// RAGInfo is one entry of ListRAGs.
type RAGInfo struct {
	Name         string   `json:"rag_name"`
	TotalVectors int      `json:"total_vectors"`
	FilesUsed    []string `json:"files_used"`
	IsDefault    bool     `json:"is_default"`
}

// SampleVector previews one stored record.
type SampleVector struct {
	ID             string `json:"vector_id"`
	FileName       string `json:"file_name"`
	ChunkIndex     int    `json:"chunk_index"`
	RAGName        string `json:"rag_name"`
	ContentPreview string `json:"content_preview"`
}

// Summary describes a namespace's contents.
type Summary struct {
	Namespace     string         `json:"rag_name"`
	TotalVectors  int            `json:"total_vectors"`
	Dimensions    int            `json:"dimensions"`
	FilesUsed     []string       `json:"files_used"`
	Sections      int            `json:"sections"`
	SampleVectors []SampleVector `json:"sample_vectors"`
}

// CreateRAG builds namespace name from every supported document under
// folder (the data folder when empty). Documents that fail are logged and
// reported in FilesSkipped.
func (s *Service) CreateRAG(ctx context.Context, name, folder string) (CreateResult, error) {
	if err := checkName(name); err != nil {
		return CreateResult{}, err
	}

	info, err := s.store.Stats(ctx, name)
	switch {
	case err == nil && info.Vectors > 0:
		return CreateResult{}, ragerr.New(ragerr.CodeRAGCreateConflict,
			fmt.Sprintf("RAG '%s' already exists", name), ragerr.FieldNamespace(name))
	case err != nil && !ragerr.IsNotFound(err):
		return CreateResult{}, err
	}

	if folder == "" {
		folder = s.dataFolder
	}
	if folder == "" {
		return CreateResult{}, ragerr.New(ragerr.CodeRAGInvalidInput, "no folder given and no data folder configured")
	}

	files, err := ingest.ListDocuments(folder, s.patterns)
	if err != nil {
		return CreateResult{}, err
	}
	if len(files) == 0 {
		return CreateResult{}, ragerr.New(ragerr.CodeRAGInvalidInput,
			"no PDF or TXT files found in "+folder, ragerr.FieldSource(folder))
	}

	result := CreateResult{Namespace: name, FilesSkipped: []SkippedFile{}}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return CreateResult{}, ragerr.Wrap(err, ragerr.CodeRAGIngestFailure, "create cancelled", ragerr.FieldNamespace(name))
		}

		res, err := s.IngestFile(ctx, name, path)
		if err != nil {
			slog.Warn("skipping document", "namespace", name, "file", path, "error", err)
			result.FilesSkipped = append(result.FilesSkipped, SkippedFile{File: filepath.Base(path), Error: err.Error()})
			continue
		}
		result.TotalFiles++
		result.TotalVectors += res.Vectors
	}

	if result.TotalFiles == 0 {
		return CreateResult{}, ragerr.New(ragerr.CodeRAGIngestFailure,
			fmt.Sprintf("none of the %d documents in %s could be ingested", len(files), folder),
			ragerr.FieldNamespace(name))
	}

	slog.Info("created rag",
		"namespace", name,
		"files", result.TotalFiles,
		"vectors", result.TotalVectors,
		"skipped", len(result.FilesSkipped),
	)
	return result, nil
}

// ListRAGs returns every namespace with its files and default flag.
func (s *Service) ListRAGs(ctx context.Context) ([]RAGInfo, error) {
	namespaces, err := s.store.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	def, hasDefault, err := s.DefaultRAG()
	if err != nil {
		return nil, err
	}

	out := make([]RAGInfo, 0, len(namespaces))
	for _, ns := range namespaces {
		files, err := s.store.Sources(ctx, ns.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, RAGInfo{
			Name:         ns.Name,
			TotalVectors: ns.Vectors,
			FilesUsed:    files,
			IsDefault:    hasDefault && def == ns.Name,
		})
	}
	return out, nil
}

// Summary reports counts, files and a few sample records of name.
func (s *Service) Summary(ctx context.Context, name string) (Summary, error) {
	info, err := s.stats(ctx, name)
	if err != nil {
		return Summary{}, err
	}
	files, err := s.store.Sources(ctx, name)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.store.Sample(ctx, name, summaryScanLimit)
	if err != nil {
		return Summary{}, err
	}

	sections := make(map[string]struct{})
	samples := make([]SampleVector, 0, summarySamples)
	for _, r := range records {
		idx := metaInt(r.Metadata, MetaChunkIndex)
		sections[fmt.Sprintf("%s\x00%d", r.FileName(), idx)] = struct{}{}
		if len(samples) < summarySamples {
			samples = append(samples, SampleVector{
				ID:             r.ID,
				FileName:       r.FileName(),
				ChunkIndex:     idx,
				RAGName:        name,
				ContentPreview: truncateRunes(vector.MetadataString(r.Metadata, vector.MetaContent), previewChars),
			})
		}
	}

	return Summary{
		Namespace:     name,
		TotalVectors:  info.Vectors,
		Dimensions:    info.Dimensions,
		FilesUsed:     files,
		Sections:      len(sections),
		SampleVectors: samples,
	}, nil
}

// ListFiles returns the distinct file names stored in name.
func (s *Service) ListFiles(ctx context.Context, name string) ([]string, error) {
	if _, err := s.stats(ctx, name); err != nil {
		return nil, err
	}
	return s.store.Sources(ctx, name)
}

// DeleteRAG drops namespace name and clears the default pointer if it
// named it.
func (s *Service) DeleteRAG(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.store.DeleteNamespace(ctx, name); err != nil {
		return notFound(name, err)
	}

	if s.defaults != nil {
		cleared, err := s.defaults.ClearIf(name)
		if err != nil {
			slog.Warn("deleted rag but could not clear default", "namespace", name, "error", err)
		} else if cleared {
			slog.Info("cleared default rag", "namespace", name)
		}
	}
	slog.Info("deleted rag", "namespace", name)
	return nil
}

// RemoveVectors deletes records by id. Unknown ids are ignored.
func (s *Service) RemoveVectors(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return ragerr.New(ragerr.CodeRAGInvalidInput, "ids must not be empty", ragerr.FieldNamespace(name))
	}
	if _, err := s.stats(ctx, name); err != nil {
		return err
	}
	return s.store.DeleteIDs(ctx, name, ids)
}

// RemoveSource deletes every record of fileName and returns how many
// were removed.
func (s *Service) RemoveSource(ctx context.Context, name, fileName string) (int, error) {
	if strings.TrimSpace(fileName) == "" {
		return 0, ragerr.New(ragerr.CodeRAGInvalidInput, "file name is required", ragerr.FieldNamespace(name))
	}
	if _, err := s.stats(ctx, name); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteSource(ctx, name, fileName)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ragerr.New(ragerr.CodeRAGSourceNotFound,
			fmt.Sprintf("file '%s' not found in RAG '%s'", fileName, name),
			ragerr.FieldNamespace(name), ragerr.FieldSource(fileName))
	}
	slog.Info("removed source", "namespace", name, "file", fileName, "vectors", n)
	return n, nil
}

func (s *Service) stats(ctx context.Context, name string) (vector.NamespaceInfo, error) {
	if err := checkName(name); err != nil {
		return vector.NamespaceInfo{}, err
	}
	info, err := s.store.Stats(ctx, name)
	if err != nil {
		return vector.NamespaceInfo{}, notFound(name, err)
	}
	return info, nil
}

func notFound(name string, err error) error {
	if ragerr.IsNotFound(err) {
		return ragerr.New(ragerr.CodeRAGNotFound, fmt.Sprintf("RAG '%s' not found", name), ragerr.FieldNamespace(name))
	}
	return err
}

// metaInt reads an integer that may have been round-tripped through JSON.
func metaInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
