// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/ragd-dev/ragd/internal/config"
	"github.com/ragd-dev/ragd/internal/embed"
	"github.com/ragd-dev/ragd/internal/provider"
	"github.com/ragd-dev/ragd/internal/secrets"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

const keyCheckTimeout = 10 * time.Second

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check configuration, data directory, vector store, embedder, provider API keys, disk space and the running gateway.",
		RunE:  runDoctor,
	}

	addGatewayFlags(cmd)

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ctx := cmd.Context()
	addr, _ := cmd.Flags().GetString("address")

	v := viper.GetViper()
	resolveSecrets(v)
	cfg, cfgErr := config.FromViper(v)

	// Checks that need a valid config report why they were skipped.
	withConfig := func(fn func(*config.Config) string) func() string {
		return func() string {
			if cfgErr != nil {
				return "skipped (config invalid)"
			}
			return fn(cfg)
		}
	}

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfgErr) }},
		{"Data Dir", withConfig(checkDataDir)},
		{"Vector Store", withConfig(checkVectorStore)},
		{"Embedder", withConfig(checkEmbedder)},
		{"Providers", withConfig(func(c *config.Config) string { return checkProviders(ctx, c) })},
		{"Disk Space", withConfig(func(c *config.Config) string { return checkDiskSpace(c.Storage.DataDir) })},
		{"Gateway", func() string { return checkGateway(cmd, addr) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("ragd %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(err error) string {
	if err != nil {
		return fmt.Sprintf("invalid: %s", err)
	}
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		return fmt.Sprintf("valid, loaded from %s", cfgFile)
	}
	return "valid, using defaults (no config file found)"
}

func checkDataDir(cfg *config.Config) string {
	dir := cfg.Storage.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Sprintf("not writable: %s", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Sprintf("not writable: %s", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return fmt.Sprintf("writable at %s", dir)
}

func checkVectorStore(cfg *config.Config) string {
	store, err := openVectorStore(cfg)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = store.Close() }()

	target := cfg.Vector.Backend
	switch cfg.Vector.Backend {
	case "sqlite":
		target += " at " + cfg.Vector.SQLite.Path
	case "milvus":
		target += " at " + cfg.Vector.Milvus.Address
	}
	return fmt.Sprintf("%s opened (%d dimensions)", target, store.Dimensions())
}

func checkEmbedder(cfg *config.Config) string {
	backend, err := embed.NewBackend(embeddingConfig(cfg))
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	model := cfg.Embedding.Model
	if model == "" {
		model = "default model"
	}
	return fmt.Sprintf("%s (%s, %d native dimensions)", backend.Name(), model, backend.Dimensions())
}

func checkProviders(ctx context.Context, cfg *config.Config) string {
	if len(cfg.Providers) == 0 {
		return "none configured (ask is unavailable)"
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	results := make([]string, 0, len(names))
	for _, name := range names {
		results = append(results, name+" "+checkProviderKey(ctx, name, cfg.Providers[name]))
	}
	return strings.Join(results, "; ")
}

func checkProviderKey(ctx context.Context, name string, pc config.ProviderConfig) string {
	if _, ok := builtinProviderFactories[name]; !ok {
		return "unknown provider"
	}
	switch {
	case pc.APIKey == "":
		return "no api key"
	case secrets.IsKeyringURI(pc.APIKey):
		return "keyring reference unresolved"
	case pc.Endpoint != "":
		return "custom endpoint, key not checked"
	}

	ctx, cancel := context.WithTimeout(ctx, keyCheckTimeout)
	defer cancel()
	err := provider.ValidateKey(ctx, defaultHTTPClient, provider.ProviderName(name), pc.APIKey)
	switch {
	case err == nil:
		return "key ok"
	case ragerr.HasCode(err, ragerr.CodeProviderKeyInvalid):
		return "key rejected"
	default:
		return fmt.Sprintf("unable to check: %s", err)
	}
}

func checkGateway(cmd *cobra.Command, addr string) string {
	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	var body struct {
		Status string `json:"status"`
	}
	if err := gatewayFromFlags(cmd).getJSON(ctx, "/api/v1/status", &body); err != nil {
		if ragerr.HasCode(err, ragerr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'ragd start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to the parent until something exists.
		path = filepath.Dir(path)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
