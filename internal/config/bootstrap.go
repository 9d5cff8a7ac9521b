// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

//go:embed ragd.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/ragd/ragd.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ragd", "ragd.yaml"), nil
}

// BootstrapConfig writes the default commented config to the default path
// if nothing exists there yet. It returns the path written, or "" when the
// file already existed or could not be written.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}

	written, err := WriteConfig(cfgPath, DefaultConfigYAML, false)
	if err != nil {
		slog.Debug("skipping config bootstrap", "path", cfgPath, "error", err)
		return ""
	}
	if !written {
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}

// WriteConfig writes data to path with 0600 permissions, creating the
// parent directory. When overwrite is false and path exists, nothing is
// written and it returns (false, nil).
func WriteConfig(path string, data []byte, overwrite bool) (bool, error) {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "writing config %s: %w", path, err)
	}
	return true, nil
}
