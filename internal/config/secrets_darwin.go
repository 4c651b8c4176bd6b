//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// security(1) exits 44 when no matching keychain item exists.
const errSecItemNotFound = 44

func secretGet(account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", secretService, "-a", account, "-w").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound {
			return "", fmt.Errorf("secret %q not in keychain", account)
		}
		return "", fmt.Errorf("reading keychain item %q: %w", account, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func secretSet(account, value string) error {
	// -U updates the item in place when it already exists.
	cmd := exec.Command("security", "add-generic-password", "-U", "-s", secretService, "-a", account, "-w", value)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("writing keychain item %q: %w: %s", account, err, strings.TrimSpace(string(out)))
	}
	return nil
}
