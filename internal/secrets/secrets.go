// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets stores provider and embedding API keys outside the
// config file and resolves keyring:// references at load time.
package secrets

// DefaultService is the keyring service ragd uses for its own keys.
const DefaultService = "ragd"

// Store provides secret storage operations.
type Store interface {
	// Store saves value under service/key.
	Store(service, key, value string) error

	// Retrieve returns the value for service/key, or an error carrying
	// CodeSecretNotFound.
	Retrieve(service, key string) (string, error)

	// Delete removes service/key, or returns CodeSecretNotFound.
	Delete(service, key string) error

	// List returns all key names stored under service.
	List(service string) ([]string, error)
}

// URI returns the keyring:// reference for key under DefaultService, the
// form written into ragd.yaml by `ragd secret set` and `ragd init`.
func URI(key string) string {
	return keyringScheme + DefaultService + "/" + key
}
