// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ragd-dev/ragd/internal/ingest"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!doctype html>
<html><head><title>Guide</title>
<style>body { color: red; }</style>
<script>var secret = "do not index";</script>
</head>
<body>
  <h1>Getting   started</h1>
  <noscript>enable javascript</noscript>
  <p>Install the <b>CLI</b> first.</p>
  <iframe src="ad.html">advert</iframe>
  <!-- a comment -->
</body></html>`

func TestHTMLText_StripsNonContent(t *testing.T) {
	text, err := ingest.HTMLText(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, "Guide Getting started Install the CLI first.", text)
	assert.NotContains(t, text, "secret")
	assert.NotContains(t, text, "javascript")
	assert.NotContains(t, text, "color")
	assert.NotContains(t, text, "comment")
}

func TestExtractURL_HTML(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := ingest.NewFetcher(time.Second, "ragd-test/1.0")
	text, err := f.ExtractURL(context.Background(), srv.URL+"/guide")
	require.NoError(t, err)
	assert.Contains(t, text, "Install the CLI first.")
	assert.Equal(t, "ragd-test/1.0", gotUA)
}

func TestExtractURL_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := ingest.NewFetcher(time.Second, "").ExtractURL(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeIngestFetchUpstreamFailure))
	assert.Contains(t, err.Error(), "404")
}

func TestExtractURL_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><script>only()</script></html>"))
	}))
	defer srv.Close()

	_, err := ingest.NewFetcher(time.Second, "").ExtractURL(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, ragerr.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "no content could be extracted")
}

func TestExtractURL_PDFContentTypeUsesPDFReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("<html><body>looks like html</body></html>"))
	}))
	defer srv.Close()

	_, err := ingest.NewFetcher(time.Second, "").ExtractURL(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeIngestExtractFailure))
}

func TestExtractURL_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := ingest.NewFetcher(50*time.Millisecond, "").ExtractURL(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, ragerr.IsTimeout(err))
}

func TestExtractURL_InvalidURL(t *testing.T) {
	f := ingest.NewFetcher(time.Second, "")
	for _, raw := range []string{"ftp://example.com/file", "not a url", "http://"} {
		_, err := f.ExtractURL(context.Background(), raw)
		require.Error(t, err, raw)
		assert.True(t, ragerr.IsInvalidInput(err), raw)
	}
}

func TestDomainName(t *testing.T) {
	name, err := ingest.DomainName("https://docs.example.com:8443/a/b?q=1")
	require.NoError(t, err)
	assert.Equal(t, "docs_example_com_8443", name)
}

func TestSaveExtracted(t *testing.T) {
	dir := t.TempDir()

	path, err := ingest.SaveExtracted(dir, "https://www.example.org/page", "body text")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "extracted_from_url", "www_example_org", "www_example_org.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "body text", string(data))
}
