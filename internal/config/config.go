package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Ollama  OllamaConfig
	Synth   SynthConfig
	Proxy   ProxyConfig
	Session SessionConfig
	WS      WSConfig
	Redis   RedisConfig
	Worker  WorkerConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL     string
	VisionModel string
	SynthModel  string
}

// SynthConfig selects the document synthesis backend.
type SynthConfig struct {
	Backend     string // "ollama" or "openrouter"
	TemplateDir string
	Timeout     time.Duration
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
}

type SessionConfig struct {
	IdleTimeout      time.Duration
	TranscriptWindow int
	Debounce         time.Duration
	// DebounceMaxWait caps how long continuous speech can postpone a
	// transcript synthesis check.
	DebounceMaxWait time.Duration
}

// WSConfig bounds inbound websocket traffic per connection.
type WSConfig struct {
	MaxMessagesPerSec int
	Burst             int
}

// RedisConfig enables cross-instance broadcast when Addr is set.
type RedisConfig struct {
	Addr    string
	Channel string
}

// WorkerConfig tunes the flowchart job worker. Finished jobs older than
// Retention are pruned.
type WorkerConfig struct {
	PollInterval time.Duration
	Retention    time.Duration
}

// Synthesis backends.
const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{Port: 4000},
		Log:    LogConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			VisionModel: "llava",
			SynthModel:  "mistral-nemo",
		},
		Synth: SynthConfig{
			Backend:     BackendOllama,
			TemplateDir: filepath.Join(dataDir, "templates"),
			Timeout:     60 * time.Second,
		},
		Proxy: ProxyConfig{
			DefaultModel: "anthropic/claude-sonnet-4",
		},
		Session: SessionConfig{
			IdleTimeout:      10 * time.Minute,
			TranscriptWindow: 50,
			Debounce:         4 * time.Second,
			DebounceMaxWait:  15 * time.Second,
		},
		WS:     WSConfig{MaxMessagesPerSec: 10, Burst: 20},
		Redis:  RedisConfig{Channel: "opscribe:updates"},
		Worker: WorkerConfig{PollInterval: 500 * time.Millisecond, Retention: 7 * 24 * time.Hour},
	}
}

// Load builds the effective configuration. Later sources win: built-in
// defaults, then the platform backend (UserDefaults domain com.opscribe.app
// on macOS, $XDG_CONFIG_HOME/opscribe/config.json elsewhere), then OPSCRIBE_*
// environment variables. The OpenRouter key comes from the environment or the
// secret store only, and may be absent: the openrouter backend then reports
// itself as not configured when used.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), platformSecrets{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Proxy.OpenRouterAPIKey == "" {
		if key, err := kc.Get(secretService, openRouterAccount); err == nil && key != "" {
			cfg.Proxy.OpenRouterAPIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Synth.Backend {
	case BackendOllama, BackendOpenRouter:
	default:
		return fmt.Errorf("synth.backend must be %q or %q, got %q", BackendOllama, BackendOpenRouter, c.Synth.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// MissingSecretHint explains where the OpenRouter key can be provided.
func MissingSecretHint() string {
	return "set environment variable OPSCRIBE_OPENROUTER_API_KEY" + apiKeyHint()
}
