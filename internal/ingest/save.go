// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"os"
	"path/filepath"
	"regexp"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

const (
	// ExtractedDir is the data-folder subdirectory holding saved URL text.
	ExtractedDir = "extracted_from_url"
	// UploadsDir is the data-folder subdirectory holding uploaded files.
	UploadsDir = "uploads"
)

// managedDirs are written by the service itself and already ingested into
// the namespace the caller chose.
var managedDirs = []string{ExtractedDir, UploadsDir}

var nonWord = regexp.MustCompile(`[^\w]`)

// DomainName returns the URL host with every non-word character replaced
// by an underscore, e.g. "docs_example_com".
func DomainName(rawURL string) (string, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	return nonWord.ReplaceAllString(u.Host, "_"), nil
}

// SaveExtracted writes text to <dataFolder>/extracted_from_url/<domain>/<domain>.txt
// and returns the path written.
func SaveExtracted(dataFolder, rawURL, text string) (string, error) {
	domain, err := DomainName(rawURL)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(dataFolder, ExtractedDir, domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeIngestSaveFailure, "creating extraction directory", ragerr.FieldSource(rawURL))
	}

	path := filepath.Join(dir, domain+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeIngestSaveFailure, "writing extracted text", ragerr.FieldSource(rawURL))
	}
	return path, nil
}
