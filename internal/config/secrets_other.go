//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// The secrets file is a flat YAML mapping of account to value, e.g.
//
//	generation_api_key: sk-...
//	jwt_secret: ...

func secretGet(account string) (string, error) {
	return readSecret(secretsFilePath(), account)
}

func secretSet(account, value string) error {
	return writeSecret(secretsFilePath(), account, value)
}

func loadSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	secrets := map[string]string{}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	return secrets, nil
}

func readSecret(path, account string) (string, error) {
	secrets, err := loadSecrets(path)
	if err != nil {
		return "", err
	}
	v, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("secret %q not set in %s", account, path)
	}
	return v, nil
}

// writeSecret updates one account. A file that cannot be parsed is left
// untouched so the other secrets in it are not lost.
func writeSecret(path, account, value string) error {
	secrets, err := loadSecrets(path)
	if err != nil {
		return fmt.Errorf("%w; fix or remove the file before setting secrets", err)
	}
	secrets[account] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := yaml.Marshal(secrets)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
