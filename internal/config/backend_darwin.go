//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.opscribe.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "opscribe-data"
	}
	return filepath.Join(home, "Library", "Application Support", "opscribe")
}

func apiKeyHint() string {
	return " or a Keychain item (service: " + secretService + ", account: " + openRouterAccount + ")"
}

// defaultsBackend stores settings in UserDefaults through the defaults tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() Backend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", append([]string{args[0], b.domain}, args[1:]...)...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b defaultsBackend) Lookup(key string) (string, bool, error) {
	out, err := b.run("read", key)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, out)
	}
	return out, true, nil
}

func (b defaultsBackend) Store(key, value string) error {
	if out, err := b.run("write", key, "-string", value); err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, out)
	}
	return nil
}

func (b defaultsBackend) Remove(key string) error {
	if _, ok, err := b.Lookup(key); err != nil || !ok {
		return err
	}
	if out, err := b.run("delete", key); err != nil {
		return fmt.Errorf("defaults delete %s: %w (%s)", key, err, out)
	}
	return nil
}
