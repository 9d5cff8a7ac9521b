// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// ProviderName identifies a supported LLM provider for key validation.
type ProviderName string

const (
	ProviderAnthropic  ProviderName = "anthropic"
	ProviderOpenAI     ProviderName = "openai"
	ProviderGoogle     ProviderName = "google"
	ProviderOpenRouter ProviderName = "openrouter"
)

var modelsEndpoints = map[ProviderName]string{
	ProviderAnthropic:  "https://api.anthropic.com/v1/models",
	ProviderOpenAI:     "https://api.openai.com/v1/models",
	ProviderGoogle:     "https://generativelanguage.googleapis.com/v1/models",
	ProviderOpenRouter: "https://openrouter.ai/api/v1/models",
}

// ValidateKey makes a lightweight call to the provider's models endpoint to
// confirm the API key is accepted.
func ValidateKey(ctx context.Context, client *http.Client, provider ProviderName, key string) error {
	return ValidateKeyWithURL(ctx, client, provider, key, "")
}

// ValidateKeyWithURL is ValidateKey against an explicit models URL. An empty
// url uses the provider default.
func ValidateKeyWithURL(ctx context.Context, client *http.Client, provider ProviderName, key, url string) error {
	endpoint, ok := modelsEndpoints[provider]
	if !ok {
		return ragerr.Errorf(ragerr.CodeProviderKeyInvalid, "unknown provider: %s", provider)
	}
	if url != "" {
		endpoint = url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ragerr.Wrapf(err, ragerr.CodeProviderKeyCheckFailed, "building %s validation request", provider)
	}
	switch provider {
	case ProviderAnthropic:
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", "2023-06-01")
	case ProviderGoogle:
		// The Generative Language API only accepts the key as a query
		// parameter, so it shows up in proxy access logs.
		q := req.URL.Query()
		q.Set("key", key)
		req.URL.RawQuery = q.Encode()
	default:
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return ragerr.Wrapf(err, ragerr.CodeProviderKeyCheckFailed, "validating %s key", provider)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ragerr.Errorf(ragerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", provider, resp.StatusCode)
	case resp.StatusCode >= 400:
		return ragerr.Errorf(ragerr.CodeProviderKeyCheckFailed, "%s validation failed (HTTP %d)", provider, resp.StatusCode)
	}
	return nil
}
