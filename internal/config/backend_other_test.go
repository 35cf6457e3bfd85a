//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	b := newPlatformBackend()

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, "session.debounce", "2s"); err != nil {
		t.Fatalf("setKey debounce: %v", err)
	}

	path := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "opscribe", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	if !strings.Contains(string(data), `"server": {`) || !strings.Contains(string(data), `"port": 4100`) {
		t.Errorf("config file not grouped by section:\n%s", data)
	}

	clearEnv(t)
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4100 || cfg.Session.Debounce != 2*time.Second {
		t.Errorf("loaded port=%d debounce=%v", cfg.Server.Port, cfg.Session.Debounce)
	}

	if err := unsetKey(b, "server.port"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if _, ok, _ := b.Lookup("server.port"); ok {
		t.Error("server.port still present after unset")
	}
	if v, ok, _ := b.Lookup("session.debounce"); !ok || v != "2s" {
		t.Errorf("session.debounce = %q, %v", v, ok)
	}
}

func TestFileBackend_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	b := newPlatformBackend()
	if _, ok, err := b.Lookup("server.port"); ok || err != nil {
		t.Errorf("Lookup on missing file = (%v, %v)", ok, err)
	}
	if err := b.Remove("server.port"); err != nil {
		t.Errorf("Remove on missing file: %v", err)
	}
}

func TestFileBackend_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "opscribe"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "opscribe", "config.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := newPlatformBackend().Lookup("server.port"); err == nil {
		t.Error("expected parse error for corrupt config file")
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	s := NewKeychain()

	if _, err := s.Get(secretService, apiTokenAccount); err == nil {
		t.Error("expected error for missing secret")
	}
	tok, err := GetAPIToken(s)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	got, err := s.Get(secretService, apiTokenAccount)
	if err != nil || got != tok {
		t.Errorf("stored token = %q, %v", got, err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}
