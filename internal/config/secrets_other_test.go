//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecrets_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aury", "secrets.yaml")

	require.NoError(t, writeSecret(path, "generation_api_key", "sk-one"))
	require.NoError(t, writeSecret(path, "jwt_secret", "hmac-two"))
	require.NoError(t, writeSecret(path, "generation_api_key", "sk-three"))

	v, err := readSecret(path, "generation_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-three", v)

	v, err = readSecret(path, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "hmac-two", v)

	var onDisk map[string]string
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, map[string]string{"generation_api_key": "sk-three", "jwt_secret": "hmac-two"}, onDisk)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSecrets_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")

	_, err := readSecret(path, "jwt_secret")
	assert.ErrorContains(t, err, `"jwt_secret" not set`)

	require.NoError(t, writeSecret(path, "generation_api_key", "sk"))
	_, err = readSecret(path, "jwt_secret")
	assert.Error(t, err)
}

func TestSecrets_CorruptFileIsNotOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	corrupt := "jwt_secret: keep-me\ngeneration_api_key: [unterminated\n"
	require.NoError(t, os.WriteFile(path, []byte(corrupt), 0o600))

	err := writeSecret(path, "generation_api_key", "sk-new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing secrets file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, corrupt, string(data), "file must be left as it was")

	_, err = readSecret(path, "jwt_secret")
	assert.ErrorContains(t, err, "parsing secrets file")
}
