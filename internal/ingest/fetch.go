// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultURLTimeout bounds a single URL fetch.
const DefaultURLTimeout = 15 * time.Second

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 64 << 20

// Fetcher downloads web pages and PDFs and returns their text.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher returns a Fetcher. A zero timeout uses DefaultURLTimeout.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultURLTimeout
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// WithClient replaces the HTTP client, keeping the user agent.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	return &Fetcher{client: c, userAgent: f.userAgent}
}

// ExtractURL fetches rawURL and returns its text. PDF responses go through
// the PDF reader; anything else is treated as HTML.
func (f *Fetcher) ExtractURL(ctx context.Context, rawURL string) (string, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeIngestFetchInvalidInput, "building request", ragerr.FieldSource(rawURL))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	slog.Info("fetching url", "url", u.String())
	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", ragerr.Wrap(err, ragerr.CodeIngestFetchTimeout, "fetching url timed out", ragerr.FieldSource(rawURL))
		}
		return "", ragerr.Wrap(err, ragerr.CodeIngestFetchUpstreamFailure, "fetching url", ragerr.FieldSource(rawURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ragerr.New(ragerr.CodeIngestFetchUpstreamFailure,
			"failed to fetch url: status "+resp.Status, ragerr.FieldSource(rawURL))
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)

	var text string
	if isPDF(resp.Header.Get("Content-Type")) {
		text, err = pdfFromReader(body)
	} else {
		text, err = HTMLText(body)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", ragerr.New(ragerr.CodeIngestExtractEmpty, "no content could be extracted from the url", ragerr.FieldSource(rawURL))
	}
	return text, nil
}

// ParseURL accepts only absolute http and https URLs.
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeIngestFetchInvalidInput, "parsing url", ragerr.FieldSource(rawURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ragerr.New(ragerr.CodeIngestFetchInvalidInput, "url scheme must be http or https", ragerr.FieldSource(rawURL))
	}
	if u.Host == "" {
		return nil, ragerr.New(ragerr.CodeIngestFetchInvalidInput, "url has no host", ragerr.FieldSource(rawURL))
	}
	return u, nil
}

// skipped elements never contribute visible text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
}

// HTMLText returns the visible text of an HTML document, joined by single
// spaces.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", ragerr.Wrapf(err, ragerr.CodeIngestExtractFailure, "parsing html")
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.CommentNode {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return CleanText(strings.Join(parts, " ")), nil
}

func pdfFromReader(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "ragd-url-*.pdf")
	if err != nil {
		return "", ragerr.Wrapf(err, ragerr.CodeIngestExtractFailure, "creating temp pdf")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", ragerr.Wrapf(err, ragerr.CodeIngestFetchUpstreamFailure, "downloading pdf")
	}
	if err := tmp.Close(); err != nil {
		return "", ragerr.Wrapf(err, ragerr.CodeIngestExtractFailure, "closing temp pdf")
	}
	return extractPDF(tmp.Name())
}

func isPDF(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/pdf")
	}
	return mt == "application/pdf"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
