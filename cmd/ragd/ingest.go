// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragd-dev/ragd/internal/ingest"
	"github.com/ragd-dev/ragd/internal/rag"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <path|url>...",
		Short: "Add documents or web pages to a RAG",
		Long: `Extract local .pdf and .txt files (directories are walked) and send
their text to the gateway, or have the gateway fetch http(s) URLs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}

	addGatewayFlags(cmd)
	cmd.Flags().String("rag", "", "target RAG name (required)")
	_ = cmd.MarkFlagRequired("rag")

	return cmd
}

type ingestTextRequest struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type ingestURLRequest struct {
	URL string `json:"url"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("rag")
	if strings.TrimSpace(name) == "" {
		return ragerr.New(ragerr.CodeCLIInputInvalid, "--rag must name a RAG")
	}
	gw := gatewayFromFlags(cmd)
	base := "/api/v1/rags/" + url.PathEscape(name)
	out := cmd.OutOrStdout()

	var failed int
	report := func(target string, res rag.IngestResult, err error) error {
		if err != nil {
			if ragerr.HasCode(err, ragerr.CodeCLIGatewayNotRunning) {
				return err
			}
			failed++
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", target, err)
			return nil
		}
		_, _ = fmt.Fprintf(out, "%s -> %s/%s (%d chunks, %d vectors)\n",
			target, res.Namespace, res.FileName, res.Chunks, res.Vectors)
		return nil
	}

	for _, arg := range args {
		if isURL(arg) {
			var res rag.IngestResult
			err := gw.postJSON(cmd.Context(), base+"/urls", ingestURLRequest{URL: arg}, &res)
			if err := report(arg, res, err); err != nil {
				return err
			}
			continue
		}

		files, err := localDocuments(arg)
		if err != nil {
			if err := report(arg, rag.IngestResult{}, err); err != nil {
				return err
			}
			continue
		}
		for _, path := range files {
			var res rag.IngestResult
			text, err := ingest.ExtractFile(path)
			if err == nil {
				err = gw.postJSON(cmd.Context(), base+"/texts", ingestTextRequest{Source: path, Text: text}, &res)
			}
			if err := report(path, res, err); err != nil {
				return err
			}
		}
	}

	if failed > 0 {
		return ragerr.Errorf(ragerr.CodeCLIRequestFailure, "%d source(s) could not be ingested", failed)
	}
	return nil
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// localDocuments expands a directory to the documents under it.
func localDocuments(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeCLIInputInvalid, "reading "+path)
	}
	if !info.IsDir() {
		if !ingest.Supported(path) {
			return nil, ragerr.New(ragerr.CodeIngestExtractUnsupported, "only .pdf and .txt files are accepted")
		}
		return []string{path}, nil
	}
	files, err := ingest.ListDocuments(path, ingest.DefaultPatterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ragerr.New(ragerr.CodeCLIInputInvalid, "no .pdf or .txt files found")
	}
	return files, nil
}
