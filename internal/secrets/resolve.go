// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"log/slog"
	"strings"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/spf13/viper"
)

const keyringScheme = "keyring://"

func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI splits keyring://service/key. The key may contain slashes.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", ragerr.Errorf(ragerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", ragerr.Errorf(ragerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// Resolve returns the secret behind a keyring:// value, or value itself
// when it is a plain string.
func Resolve(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", ragerr.Wrapf(err, ragerr.CodeSecretResolveFailure, "resolving %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring:// string in v with the
// stored secret. Unresolvable references are logged and left in place so
// the component that needs them fails with a clear error later.
func ResolveViperSecrets(v *viper.Viper, store Store) int {
	resolved := 0
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}

		secret, err := Resolve(store, val)
		if err != nil {
			slog.Warn("keeping unresolved keyring reference", "config_key", key, "error", err)
			continue
		}
		v.Set(key, secret)
		resolved++
	}
	return resolved
}
