// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

const (
	defaultGatewayAddr = "127.0.0.1:5001"
	probeTimeout       = 5 * time.Second
)

// defaultHTTPClient is the package-level HTTP client used by gateway commands.
// Overridden in tests via httptest. Generation can be slow, so the client
// timeout is generous and quick probes set their own deadline.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Minute,
}

// gatewayClient provides HTTP access to a running ragd gateway.
type gatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newGatewayClient creates a client targeting the given host:port address.
func newGatewayClient(addr, token string) *gatewayClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &gatewayClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    defaultHTTPClient,
	}
}

// addGatewayFlags registers --address and --token on cmd.
func addGatewayFlags(cmd *cobra.Command) {
	cmd.Flags().String("address", defaultGatewayAddr, "gateway address (host:port or URL)")
	cmd.Flags().String("token", "", "bearer token; defaults to RAGD_API_TOKEN")
}

// gatewayFromFlags builds a client from the flags added by addGatewayFlags.
func gatewayFromFlags(cmd *cobra.Command) *gatewayClient {
	addr, _ := cmd.Flags().GetString("address")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = viper.GetString("api_token")
	}
	return newGatewayClient(addr, token)
}

func (c *gatewayClient) getJSON(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

func (c *gatewayClient) postJSON(ctx context.Context, path string, body, dest any) error {
	return c.do(ctx, http.MethodPost, path, body, dest)
}

func (c *gatewayClient) putJSON(ctx context.Context, path string, body, dest any) error {
	return c.do(ctx, http.MethodPut, path, body, dest)
}

func (c *gatewayClient) delete(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodDelete, path, nil, dest)
}

// do sends body as JSON and decodes a 2xx response into dest. Connection
// refused maps to CodeCLIGatewayNotRunning.
func (c *gatewayClient) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return ragerr.Wrap(err, ragerr.CodeCLIInputInvalid, "encoding request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return ragerr.Wrap(err, ragerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return ragerr.New(ragerr.CodeCLIGatewayNotRunning, "gateway is not running (connection refused)")
		}
		return ragerr.Wrap(err, ragerr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return ragerr.Errorf(ragerr.CodeCLIRequestFailure, "gateway returned status %d: %s",
			resp.StatusCode, errorMessage(raw))
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return ragerr.Wrap(err, ragerr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// errorMessage pulls the human-readable part out of a problem+json or
// auth error body.
func errorMessage(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Detail != "":
			return body.Detail
		case body.Error != "":
			return body.Error
		case body.Title != "":
			return body.Title
		}
	}
	return strings.TrimSpace(string(raw))
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
