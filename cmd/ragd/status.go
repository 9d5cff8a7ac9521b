// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ragd-dev/ragd/internal/server"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Long:  "Check the running gateway's status endpoint and display backends, namespaces and provider health.",
		RunE:  runStatus,
	}

	addGatewayFlags(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	var body server.StatusBody
	if err := gatewayFromFlags(cmd).getJSON(ctx, "/api/v1/status", &body); err != nil {
		if ragerr.HasCode(err, ragerr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Gateway at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Gateway at %s: %s\n", addr, err)
		return nil
	}

	printStatus(out, addr, body)
	return nil
}

func printStatus(out io.Writer, addr string, body server.StatusBody) {
	_, _ = fmt.Fprintf(out, "Gateway at %s: %s (version %s)\n", addr, body.Status, body.Version)
	_, _ = fmt.Fprintf(out, "  %-14s %s\n", "Vector store:", body.VectorBackend)
	_, _ = fmt.Fprintf(out, "  %-14s %s\n", "Embedder:", body.Embedder)
	_, _ = fmt.Fprintf(out, "  %-14s %d\n", "RAGs:", body.Namespaces)
	def := "(none)"
	if body.DefaultRAG != nil {
		def = *body.DefaultRAG
	}
	_, _ = fmt.Fprintf(out, "  %-14s %s\n", "Default RAG:", def)

	names := make([]string, 0, len(body.Providers))
	for name := range body.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		state := "healthy"
		if !body.Providers[name].Available {
			state = "cooling down"
		}
		_, _ = fmt.Fprintf(out, "  %-14s %s\n", "Provider "+name+":", state)
	}
}
