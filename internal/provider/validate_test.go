// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ragd-dev/ragd/internal/provider"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey_Headers(t *testing.T) {
	tests := []struct {
		provider provider.ProviderName
		check    func(t *testing.T, r *http.Request)
	}{
		{provider.ProviderAnthropic, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		}},
		{provider.ProviderOpenAI, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		}},
		{provider.ProviderOpenRouter, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		}},
		{provider.ProviderGoogle, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "test-api-key", r.URL.Query().Get("key"))
			assert.Empty(t, r.Header.Get("Authorization"))
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/models", r.URL.Path)
				tt.check(t, r)
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
			}))
			defer srv.Close()

			err := provider.ValidateKeyWithURL(context.Background(), srv.Client(), tt.provider, "test-api-key", srv.URL+"/v1/models")
			require.NoError(t, err)
		})
	}
}

func TestValidateKey_InvalidKey_ReturnsError(t *testing.T) {
	tests := []struct {
		name       string
		provider   provider.ProviderName
		statusCode int
		wantCode   ragerr.Code
	}{
		{"anthropic 401", provider.ProviderAnthropic, http.StatusUnauthorized, ragerr.CodeProviderKeyInvalid},
		{"openai 403", provider.ProviderOpenAI, http.StatusForbidden, ragerr.CodeProviderKeyInvalid},
		{"google 401", provider.ProviderGoogle, http.StatusUnauthorized, ragerr.CodeProviderKeyInvalid},
		{"openrouter 500", provider.ProviderOpenRouter, http.StatusInternalServerError, ragerr.CodeProviderKeyCheckFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer srv.Close()

			err := provider.ValidateKeyWithURL(context.Background(), srv.Client(), tt.provider, "bad-key", srv.URL+"/v1/models")
			require.Error(t, err)
			assert.True(t, ragerr.HasCode(err, tt.wantCode),
				"expected %s, got %s", tt.wantCode, ragerr.CodeOf(err))
		})
	}
}

func TestValidateKey_UnknownProvider(t *testing.T) {
	err := provider.ValidateKey(context.Background(), http.DefaultClient, "unknown", "key")
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeProviderKeyInvalid))
}
