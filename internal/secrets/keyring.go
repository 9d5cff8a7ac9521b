// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/zalando/go-keyring"
)

// go-keyring cannot enumerate keys, so each service keeps a JSON list of
// its key names under this suffix.
const indexSuffix = "::index"

// KeyringStore implements Store on the OS keyring (Keychain, Secret
// Service over D-Bus, or Windows Credential Manager).
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkRef("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return ragerr.Wrapf(err, ragerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}

	keys, err := s.index(service)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return s.writeIndex(service, append(keys, key))
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkRef("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", ragerr.Errorf(ragerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", ragerr.Wrapf(err, ragerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkRef("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return ragerr.Errorf(ragerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return ragerr.Wrapf(err, ragerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}

	keys, err := s.index(service)
	if err != nil {
		return err
	}
	return s.writeIndex(service, slices.DeleteFunc(keys, func(k string) bool { return k == key }))
}

func (s *KeyringStore) List(service string) ([]string, error) {
	return s.index(service)
}

func (s *KeyringStore) index(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeSecretListFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) writeIndex(service string, keys []string) error {
	indexKey := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return ragerr.Wrapf(err, ragerr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return ragerr.Wrapf(err, ragerr.CodeSecretListFailure, "saving key index for %s", service)
	}
	return nil
}

func checkRef(op, service, key string) error {
	if service == "" {
		return ragerr.Errorf(ragerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return ragerr.Errorf(ragerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}
