// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets_test

import (
	"testing"

	"github.com/ragd-dev/ragd/internal/secrets"
	ragerr "github.com/ragd-dev/ragd/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyringURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantService string
		wantKey     string
		wantErr     bool
	}{
		{"valid", "keyring://ragd/openai", "ragd", "openai", false},
		{"slashes in key", "keyring://ragd/embed/google", "ragd", "embed/google", false},
		{"other scheme", "vault://secret/key", "", "", true},
		{"missing key", "keyring://ragd/", "", "", true},
		{"missing service", "keyring:///key", "", "", true},
		{"no path", "keyring://ragd", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, key, err := secrets.ParseKeyringURI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ragerr.HasCode(err, ragerr.CodeSecretInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantService, svc)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestResolve(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("ragd", "resolve-key", "resolved-secret"))

	val, err := secrets.Resolve(ks, "keyring://ragd/resolve-key")
	require.NoError(t, err)
	assert.Equal(t, "resolved-secret", val)

	val, err = secrets.Resolve(ks, "sk-literal")
	require.NoError(t, err)
	assert.Equal(t, "sk-literal", val)

	_, err = secrets.Resolve(ks, "keyring://ragd/absent")
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.CodeSecretNotFound))
}

func TestResolveViperSecrets(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("ragd", "viper-openai", "sk-oai"))
	require.NoError(t, ks.Store("ragd", "viper-milvus", "milvus-token"))

	v := viper.New()
	v.Set("providers.openai.api_key", "keyring://ragd/viper-openai")
	v.Set("vector.milvus.api_key", "keyring://ragd/viper-milvus")
	v.Set("embedding.api_key", "keyring://ragd/viper-missing")
	v.Set("server.listen", "0.0.0.0:5001")

	n := secrets.ResolveViperSecrets(v, ks)
	assert.Equal(t, 2, n)
	assert.Equal(t, "sk-oai", v.GetString("providers.openai.api_key"))
	assert.Equal(t, "milvus-token", v.GetString("vector.milvus.api_key"))
	assert.Equal(t, "keyring://ragd/viper-missing", v.GetString("embedding.api_key"))
	assert.Equal(t, "0.0.0.0:5001", v.GetString("server.listen"))
}
