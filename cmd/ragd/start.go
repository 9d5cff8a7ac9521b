// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ragd-dev/ragd/internal/config"
	"github.com/ragd-dev/ragd/internal/logging"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ragd gateway",
		Long:  "Load configuration, initialize the embedder, vector store and providers, and serve the HTTP API.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

// loadConfig resolves keyring references and decodes the global Viper
// state into a validated Config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.GetViper()
	resolveSecrets(v)
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		v.Set("server.listen", listen)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = "DEBUG"
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := WireGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.Error("closing gateway", "error", err)
		}
	}()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting ragd on %s (vector=%s, embedder=%s)\n",
		cfg.Server.Listen, cfg.Vector.Backend, gw.Embedder.Name())

	if err := gw.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
