//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "opscribe", "secrets.json")
}

// readSecrets loads the 0600 secrets file, keyed by "service/account".
func readSecrets() (map[string]string, error) {
	secrets := map[string]string{}
	data, err := os.ReadFile(secretsFilePath())
	if errors.Is(err, fs.ErrNotExist) {
		return secrets, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func keychainGet(service, account string) (string, error) {
	secrets, err := readSecrets()
	if err != nil {
		return "", err
	}
	v, ok := secrets[service+"/"+account]
	if !ok {
		return "", fmt.Errorf("no secret %s/%s", service, account)
	}
	return v, nil
}

func keychainSet(service, account, value string) error {
	secrets, err := readSecrets()
	if err != nil {
		return err
	}
	secrets[service+"/"+account] = value

	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}
