// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package ingest turns PDF, text and web sources into plain text.
package ingest

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// Supported reports whether path has an extension ExtractFile can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".txt":
		return true
	default:
		return false
	}
}

// ExtractFile returns the plain text of a .pdf or .txt file. Image-only
// PDFs produce empty text and no error.
func ExtractFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", ragerr.Wrap(err, ragerr.CodeIngestExtractFailure, "reading text file", ragerr.FieldSource(path))
		}
		return string(data), nil
	default:
		return "", ragerr.New(ragerr.CodeIngestExtractUnsupported,
			"unsupported file type "+filepath.Ext(path)+"; only .pdf and .txt are accepted",
			ragerr.FieldSource(path))
	}
}

func extractPDF(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeIngestExtractFailure, "opening pdf", ragerr.FieldSource(path))
	}
	defer f.Close()

	plain, err := rdr.GetPlainText()
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeIngestExtractFailure, "reading pdf text", ragerr.FieldSource(path))
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeIngestExtractFailure, "buffering pdf text", ragerr.FieldSource(path))
	}

	if strings.TrimSpace(buf.String()) == "" {
		slog.Warn("pdf produced no text; it may be image-only", "path", path, "pages", rdr.NumPage())
	}
	return buf.String(), nil
}
