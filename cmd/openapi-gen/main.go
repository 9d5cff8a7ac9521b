// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ragd-dev/ragd/internal/server"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

func main() {
	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	spec, err := generateSpec(formatFor(outPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatFor(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatJSON
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document huma builds from the handler types.
func generateSpec(f format) ([]byte, error) {
	// Handlers are never invoked during spec generation.
	svc, err := server.NewServices(stubRAG{}, server.BackendInfo{})
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "creating services")
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, ragerr.Errorf(ragerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()
	srv.RegisterServices(svc)

	data, err := json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
	if err != nil || f == formatJSON {
		return data, err
	}
	return toYAML(data)
}

// toYAML re-encodes a JSON document as block-style YAML, keeping key order.
func toYAML(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLISetupFailure, "decoding spec")
	}
	clearStyle(&doc)
	return yaml.Marshal(&doc)
}

func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}

// stubRAG satisfies server.RAGService; its methods are never called.
type stubRAG struct {
	server.RAGService
}
