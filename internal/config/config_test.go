package config

import (
	"errors"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// memSecrets is an in-memory SecretStore.
type memSecrets struct {
	data   map[string]string
	setErr error
}

func (m *memSecrets) Get(service, account string) (string, error) {
	v, ok := m.data[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *memSecrets) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[service+"/"+account] = value
	return nil
}

// memBackend is an in-memory Backend.
type memBackend map[string]string

func newMemBackend() memBackend { return memBackend{} }

func (b memBackend) Lookup(key string) (string, bool, error) {
	v, ok := b[key]
	return v, ok, nil
}

func (b memBackend) Store(key, value string) error {
	b[key] = value
	return nil
}

func (b memBackend) Remove(key string) error {
	delete(b, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newMemBackend(), mockKeychain{err: errors.New("none")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.VisionModel != "llava" || cfg.Ollama.SynthModel != "mistral-nemo" {
		t.Errorf("Ollama models = %q/%q", cfg.Ollama.VisionModel, cfg.Ollama.SynthModel)
	}
	if cfg.Synth.Backend != BackendOllama || cfg.Synth.Timeout != 60*time.Second {
		t.Errorf("Synth = %+v", cfg.Synth)
	}
	if cfg.Session.IdleTimeout != 10*time.Minute || cfg.Session.TranscriptWindow != 50 || cfg.Session.Debounce != 4*time.Second || cfg.Session.DebounceMaxWait != 15*time.Second {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.WS.MaxMessagesPerSec != 10 || cfg.WS.Burst != 20 {
		t.Errorf("WS = %+v", cfg.WS)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.Channel != "opscribe:updates" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Worker.PollInterval != 500*time.Millisecond {
		t.Errorf("Worker.PollInterval = %v", cfg.Worker.PollInterval)
	}
	if cfg.Worker.Retention != 7*24*time.Hour {
		t.Errorf("Worker.Retention = %v", cfg.Worker.Retention)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestMissingAPIKeyIsNotAnError(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b["synth.backend"] = BackendOpenRouter

	cfg, err := loadWith(b, mockKeychain{err: errors.New("none")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.OpenRouterAPIKey != "" {
		t.Errorf("OpenRouterAPIKey = %q, want empty", cfg.Proxy.OpenRouterAPIKey)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b["server.port"] = "5050"
	b["storage.data_dir"] = "/tmp/opscribe-test"
	b["session.debounce"] = "2s"
	b["synth.timeout"] = "not-a-duration"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("Server.Port = %d, want 5050", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/opscribe-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Session.Debounce != 2*time.Second {
		t.Errorf("Session.Debounce = %v, want 2s", cfg.Session.Debounce)
	}
	if cfg.Synth.Timeout != 60*time.Second {
		t.Errorf("unparseable duration should keep default, got %v", cfg.Synth.Timeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b["server.port"] = "5050"
	t.Setenv("OPSCRIBE_SERVER_PORT", "6060")
	t.Setenv("OPSCRIBE_REDIS_ADDR", "localhost:6379")
	t.Setenv("OPSCRIBE_WORKER_POLL_INTERVAL", "1s")
	t.Setenv("OPSCRIBE_WS_BURST", "abc")
	t.Setenv("OPSCRIBE_SESSION_DEBOUNCE_MAX_WAIT", "20s")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("Server.Port = %d, want env override 6060", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Worker.PollInterval != time.Second {
		t.Errorf("Worker.PollInterval = %v", cfg.Worker.PollInterval)
	}
	if cfg.WS.Burst != 20 {
		t.Errorf("unparseable int should keep default, got %d", cfg.WS.Burst)
	}
	if cfg.Session.DebounceMaxWait != 20*time.Second {
		t.Errorf("Session.DebounceMaxWait = %v", cfg.Session.DebounceMaxWait)
	}
}

func TestSecretSources(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(), mockKeychain{value: "kc-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.OpenRouterAPIKey != "kc-key" {
		t.Errorf("key from keychain = %q", cfg.Proxy.OpenRouterAPIKey)
	}

	t.Setenv("OPSCRIBE_OPENROUTER_API_KEY", "env-key")
	cfg, _ = loadWith(newMemBackend(), mockKeychain{value: "kc-key"})
	if cfg.Proxy.OpenRouterAPIKey != "env-key" {
		t.Errorf("env key should win, got %q", cfg.Proxy.OpenRouterAPIKey)
	}

	// Secrets are never read from the plain backend.
	t.Setenv("OPSCRIBE_OPENROUTER_API_KEY", "")
	b := newMemBackend()
	b["proxy.openrouter_api_key"] = "plain"
	cfg, _ = loadWith(b, mockKeychain{err: errors.New("none")})
	if cfg.Proxy.OpenRouterAPIKey != "" {
		t.Errorf("secret read from backend: %q", cfg.Proxy.OpenRouterAPIKey)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		key, value string
	}{
		{"synth.backend", "gpt"},
		{"log.level", "verbose"},
	}
	for _, tt := range tests {
		b := newMemBackend()
		b[tt.key] = tt.value
		if _, err := loadWith(b, mockKeychain{}); err == nil {
			t.Errorf("%s=%q: expected validation error", tt.key, tt.value)
		}
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()
	if err := setKey(b, "server.port", "4100"); err != nil || b["server.port"] != "4100" {
		t.Errorf("set int: err=%v value=%q", err, b["server.port"])
	}
	if err := setKey(b, "session.debounce", "3s"); err != nil || b["session.debounce"] != "3s" {
		t.Errorf("set duration: err=%v", err)
	}
	if err := setKey(b, "session.debounce", "soon"); err == nil {
		t.Error("invalid duration accepted")
	}
	if err := setKey(b, "server.port", "x"); err == nil {
		t.Error("invalid int accepted")
	}
	if err := setKey(b, "proxy.openrouter_api_key", "k"); err == nil {
		t.Error("secret accepted")
	}
	if err := setKey(b, "no.such.key", "v"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Proxy.OpenRouterAPIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "proxy.openrouter_api_key" || k.Value == "sk-secret" {
			t.Errorf("secret shown: %+v", k)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Errorf("ShowAll has %d keys, ValidKeys %d", len(ShowAll(cfg)), len(ValidKeys()))
	}
}

func TestUnsetKey(t *testing.T) {
	b := newMemBackend()
	b["ws.burst"] = "5"
	if err := unsetKey(b, "ws.burst"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if _, ok := b["ws.burst"]; ok {
		t.Error("value still stored after unset")
	}
	if err := unsetKey(b, "proxy.openrouter_api_key"); err == nil {
		t.Error("secret unset accepted")
	}
	if err := unsetKey(b, "nope"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestBackendErrorAbortsLoad(t *testing.T) {
	clearEnv(t)
	if _, err := loadWith(failingBackend{}, mockKeychain{}); err == nil {
		t.Error("expected error from unreadable backend")
	}
}

type failingBackend struct{}

func (failingBackend) Lookup(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (failingBackend) Store(string, string) error          { return errors.New("disk gone") }
func (failingBackend) Remove(string) error                 { return errors.New("disk gone") }

func TestGetAPIToken(t *testing.T) {
	s := &memSecrets{}
	tok, err := GetAPIToken(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64", len(tok))
	}
	again, _ := GetAPIToken(s)
	if again != tok {
		t.Error("token regenerated on second call")
	}

	if _, err := GetAPIToken(&memSecrets{setErr: errors.New("locked")}); err == nil {
		t.Error("expected error when the token cannot be stored")
	}
}
