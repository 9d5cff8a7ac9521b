// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

func TestGatewayClient_NotRunning(t *testing.T) {
	c := newGatewayClient("127.0.0.1:1", "")

	var body map[string]any
	err := c.getJSON(context.Background(), "/api/v1/status", &body)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeCLIGatewayNotRunning), "got: %v", err)
}

func TestGatewayClient_SendsBearerToken(t *testing.T) {
	var gotAuth, gotType string
	addr := fakeGateway(t, map[string]http.HandlerFunc{
		"POST /api/v1/ask": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotType = r.Header.Get("Content-Type")
			writeJSON(w, http.StatusOK, map[string]string{"response": "ok"})
		},
	})

	c := newGatewayClient(addr, "s3cret")
	var body map[string]string
	require.NoError(t, c.postJSON(context.Background(), "/api/v1/ask", map[string]string{"query": "q"}, &body))
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "ok", body["response"])
}

func TestGatewayClient_ErrorBodies(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"problem detail", http.StatusNotFound, `{"title":"Not Found","status":404,"detail":"RAG 'x' not found"}`, "status 404: RAG 'x' not found"},
		{"auth error", http.StatusUnauthorized, `{"error":"invalid token"}`, "status 401: invalid token"},
		{"title only", http.StatusBadGateway, `{"title":"Bad Gateway"}`, "status 502: Bad Gateway"},
		{"plain text", http.StatusInternalServerError, "boom\n", "status 500: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := fakeGateway(t, map[string]http.HandlerFunc{
				"GET /api/v1/rags": func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				},
			})

			err := newGatewayClient(addr, "").getJSON(context.Background(), "/api/v1/rags", &struct{}{})
			require.Error(t, err)
			assert.True(t, ragerr.HasCode(err, ragerr.CodeCLIRequestFailure))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestGatewayClient_InvalidJSON(t *testing.T) {
	addr := fakeGateway(t, map[string]http.HandlerFunc{
		"GET /api/v1/status": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		},
	})

	err := newGatewayClient(addr, "").getJSON(context.Background(), "/api/v1/status", &struct{}{})
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeCLIResponseInvalid))
}

func TestNewGatewayClient_BaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5001", newGatewayClient("127.0.0.1:5001", "").baseURL)
	assert.Equal(t, "https://rag.example.com", newGatewayClient("https://rag.example.com/", "").baseURL)
}
