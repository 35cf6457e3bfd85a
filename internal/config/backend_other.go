//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// xdgDir resolves an XDG base directory, falling back to home/rel.
func xdgDir(env string, rel ...string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(append([]string{home}, rel...)...), true
}

func defaultDataDir() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		return "opscribe-data"
	}
	return filepath.Join(dir, "opscribe")
}

func apiKeyHint() string {
	return " or the secrets file " + secretsFilePath()
}

// fileBackend keeps settings in a JSON document grouped by section, so
// "server.port" lives at {"server": {"port": 4000}}.
type fileBackend struct {
	path string
}

func newPlatformBackend() Backend {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	return &fileBackend{path: filepath.Join(dir, "opscribe", "config.json")}
}

func splitKey(key string) (section, name string) {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

func (b *fileBackend) read() (map[string]map[string]any, error) {
	doc := map[string]map[string]any{}
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", b.path, err)
	}
	return doc, nil
}

func (b *fileBackend) write(doc map[string]map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, append(data, '\n'), 0o600)
}

func (b *fileBackend) Lookup(key string) (string, bool, error) {
	doc, err := b.read()
	if err != nil {
		return "", false, err
	}
	section, name := splitKey(key)
	v, ok := doc[section][name]
	if !ok || v == nil {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	default:
		return fmt.Sprint(val), true, nil
	}
}

func (b *fileBackend) Store(key, value string) error {
	doc, err := b.read()
	if err != nil {
		return err
	}
	section, name := splitKey(key)
	if doc[section] == nil {
		doc[section] = map[string]any{}
	}
	if n, err := strconv.Atoi(value); err == nil {
		doc[section][name] = n
	} else {
		doc[section][name] = value
	}
	return b.write(doc)
}

func (b *fileBackend) Remove(key string) error {
	doc, err := b.read()
	if err != nil {
		return err
	}
	section, name := splitKey(key)
	if _, ok := doc[section][name]; !ok {
		return nil
	}
	delete(doc[section], name)
	if len(doc[section]) == 0 {
		delete(doc, section)
	}
	return b.write(doc)
}
