// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragd-dev/ragd/internal/rag"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Ask a question answered from indexed documents",
		Long: `Send a question to the running gateway. Without --rag the default RAG is
searched, or every RAG when no default is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	addGatewayFlags(cmd)
	cmd.Flags().StringArray("rag", nil, "RAG to search (repeatable)")
	cmd.Flags().Int("top-k", 0, "number of chunks used as context (0 uses the gateway default)")
	cmd.Flags().Float32("threshold", 0, "minimum cosine similarity")
	cmd.Flags().String("model", "", "provider/model to answer with")
	cmd.Flags().Bool("json", false, "print the raw JSON answer")

	return cmd
}

type askRequest struct {
	Query     string   `json:"query"`
	RAGNames  []string `json:"rag_names,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
	Threshold *float32 `json:"threshold,omitempty"`
	Model     string   `json:"model,omitempty"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return ragerr.New(ragerr.CodeCLIInputInvalid, "query must not be empty")
	}

	req := askRequest{Query: query}
	req.RAGNames, _ = cmd.Flags().GetStringArray("rag")
	req.TopK, _ = cmd.Flags().GetInt("top-k")
	req.Model, _ = cmd.Flags().GetString("model")
	if cmd.Flags().Changed("threshold") {
		th, _ := cmd.Flags().GetFloat32("threshold")
		req.Threshold = &th
	}

	var answer rag.Answer
	if err := gatewayFromFlags(cmd).postJSON(cmd.Context(), "/api/v1/ask", req, &answer); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	_, _ = fmt.Fprintln(out, answer.Response)
	if len(answer.Sources) > 0 {
		_, _ = fmt.Fprintln(out, "\nSources:")
		for _, s := range answer.Sources {
			_, _ = fmt.Fprintf(out, "  [%.3f] %s/%s #%d\n", s.Score, s.Namespace, s.FileName, s.ChunkIndex)
		}
	}
	for _, s := range answer.Skipped {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", s.Namespace, s.Reason)
	}
	if answer.Model != "" {
		_, _ = fmt.Fprintf(out, "\n(%s, %d tokens)\n", answer.Model, answer.Usage.TotalTokens())
	}
	return nil
}
