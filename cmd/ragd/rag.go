// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragd-dev/ragd/internal/rag"
)

func newRAGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Manage RAGs on the running gateway",
	}

	cmd.AddCommand(
		newRAGListCmd(),
		newRAGCreateCmd(),
		newRAGShowCmd(),
		newRAGDeleteCmd(),
		newRAGRemoveFileCmd(),
		newRAGDefaultCmd(),
	)

	return cmd
}

func ragPath(name string) string {
	return "/api/v1/rags/" + url.PathEscape(name)
}

func newRAGListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List RAGs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body struct {
				RAGs []rag.RAGInfo `json:"rags"`
			}
			if err := gatewayFromFlags(cmd).getJSON(cmd.Context(), "/api/v1/rags", &body); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(body.RAGs) == 0 {
				_, _ = fmt.Fprintln(out, "No RAGs found.")
				return nil
			}
			_, _ = fmt.Fprintf(out, "%-24s %-10s %s\n", "NAME", "VECTORS", "FILES")
			for _, r := range body.RAGs {
				name := r.Name
				if r.IsDefault {
					name += " *"
				}
				_, _ = fmt.Fprintf(out, "%-24s %-10d %d\n", name, r.TotalVectors, len(r.FilesUsed))
			}
			return nil
		},
	}
	addGatewayFlags(cmd)
	return cmd
}

func newRAGCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Build a RAG from a folder on the gateway host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, _ := cmd.Flags().GetString("folder")
			req := struct {
				RAGName string `json:"rag_name"`
				Folder  string `json:"folder,omitempty"`
			}{RAGName: args[0], Folder: folder}

			var res rag.CreateResult
			if err := gatewayFromFlags(cmd).postJSON(cmd.Context(), "/api/v1/rags", req, &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Created RAG %s: %d files, %d vectors\n", res.Namespace, res.TotalFiles, res.TotalVectors)
			for _, s := range res.FilesSkipped {
				_, _ = fmt.Fprintf(out, "  skipped %s: %s\n", s.File, s.Error)
			}
			return nil
		},
	}
	addGatewayFlags(cmd)
	cmd.Flags().String("folder", "", "source folder; defaults to the gateway data folder")
	return cmd
}

func newRAGShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Summarize a RAG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sum rag.Summary
			if err := gatewayFromFlags(cmd).getJSON(cmd.Context(), ragPath(args[0]), &sum); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%-12s %s\n", "Name:", sum.Namespace)
			_, _ = fmt.Fprintf(out, "%-12s %d\n", "Vectors:", sum.TotalVectors)
			_, _ = fmt.Fprintf(out, "%-12s %d\n", "Dimensions:", sum.Dimensions)
			_, _ = fmt.Fprintf(out, "%-12s %d\n", "Sections:", sum.Sections)
			_, _ = fmt.Fprintf(out, "%-12s %s\n", "Files:", strings.Join(sum.FilesUsed, ", "))
			for _, s := range sum.SampleVectors {
				_, _ = fmt.Fprintf(out, "  %s #%d: %s\n", s.FileName, s.ChunkIndex, s.ContentPreview)
			}
			return nil
		},
	}
	addGatewayFlags(cmd)
	return cmd
}

func newRAGDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a RAG and all its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Message string `json:"message"`
			}
			if err := gatewayFromFlags(cmd).delete(cmd.Context(), ragPath(args[0]), &body); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), body.Message)
			return nil
		},
	}
	addGatewayFlags(cmd)
	return cmd
}

func newRAGRemoveFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-file <name> <file>",
		Short: "Remove every vector of one file from a RAG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				VectorsRemoved int `json:"vectors_removed"`
			}
			path := ragPath(args[0]) + "/files/" + url.PathEscape(args[1])
			if err := gatewayFromFlags(cmd).delete(cmd.Context(), path, &body); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d vectors of %s from %s\n", body.VectorsRemoved, args[1], args[0])
			return nil
		},
	}
	addGatewayFlags(cmd)
	return cmd
}

func newRAGDefaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "default [name]",
		Short: "Show or set the default RAG",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				DefaultRAG *string `json:"default_rag"`
				Message    string  `json:"message"`
			}
			gw := gatewayFromFlags(cmd)
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				req := struct {
					RAGName string `json:"rag_name"`
				}{RAGName: args[0]}
				if err := gw.putJSON(cmd.Context(), "/api/v1/default-rag", req, &body); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, body.Message)
				return nil
			}

			if err := gw.getJSON(cmd.Context(), "/api/v1/default-rag", &body); err != nil {
				return err
			}
			if body.DefaultRAG == nil {
				_, _ = fmt.Fprintln(out, body.Message)
				return nil
			}
			_, _ = fmt.Fprintln(out, *body.DefaultRAG)
			return nil
		},
	}
	addGatewayFlags(cmd)
	return cmd
}
