//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func appSupportDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "aury")
	}
	return "aury-data"
}

func defaultDataDir() string {
	return appSupportDir()
}

func configFilePath() string {
	return filepath.Join(appSupportDir(), "config.yaml")
}

func apiKeyHint() string {
	return " or `aury config set-secret` (macOS Keychain, service " + secretService + ")"
}
