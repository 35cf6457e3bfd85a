package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "OPSCRIBE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "OPSCRIBE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OPSCRIBE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "OPSCRIBE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.vision_model", typ: kString, env: "OPSCRIBE_OLLAMA_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.VisionModel },
	},
	{
		key: "ollama.synth_model", typ: kString, env: "OPSCRIBE_OLLAMA_SYNTH_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.SynthModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.SynthModel },
	},
	{
		key: "synth.backend", typ: kString, env: "OPSCRIBE_SYNTH_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Synth.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.Backend },
	},
	{
		key: "synth.template_dir", typ: kString, env: "OPSCRIBE_SYNTH_TEMPLATE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Synth.TemplateDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Synth.TemplateDir },
	},
	{
		key: "synth.timeout", typ: kDuration, env: "OPSCRIBE_SYNTH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Synth.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Synth.Timeout },
	},
	{
		key: "proxy.openrouter_api_key", typ: kString, env: "OPSCRIBE_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Proxy.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.OpenRouterAPIKey },
	},
	{
		key: "proxy.default_model", typ: kString, env: "OPSCRIBE_PROXY_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Proxy.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Proxy.DefaultModel },
	},
	{
		key: "session.idle_timeout", typ: kDuration, env: "OPSCRIBE_SESSION_IDLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.IdleTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.IdleTimeout },
	},
	{
		key: "session.transcript_window", typ: kInt, env: "OPSCRIBE_SESSION_TRANSCRIPT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Session.TranscriptWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.TranscriptWindow },
	},
	{
		key: "session.debounce", typ: kDuration, env: "OPSCRIBE_SESSION_DEBOUNCE",
		apply:   func(cfg *Config, v any) { cfg.Session.Debounce = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.Debounce },
	},
	{
		key: "session.debounce_max_wait", typ: kDuration, env: "OPSCRIBE_SESSION_DEBOUNCE_MAX_WAIT",
		apply:   func(cfg *Config, v any) { cfg.Session.DebounceMaxWait = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.DebounceMaxWait },
	},
	{
		key: "ws.max_messages_per_sec", typ: kInt, env: "OPSCRIBE_WS_MAX_MESSAGES_PER_SEC",
		apply:   func(cfg *Config, v any) { cfg.WS.MaxMessagesPerSec = v.(int) },
		extract: func(cfg Config) any { return cfg.WS.MaxMessagesPerSec },
	},
	{
		key: "ws.burst", typ: kInt, env: "OPSCRIBE_WS_BURST",
		apply:   func(cfg *Config, v any) { cfg.WS.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.WS.Burst },
	},
	{
		key: "redis.addr", typ: kString, env: "OPSCRIBE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "redis.channel", typ: kString, env: "OPSCRIBE_REDIS_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Redis.Channel = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Channel },
	},
	{
		key: "worker.poll_interval", typ: kDuration, env: "OPSCRIBE_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.retention", typ: kDuration, env: "OPSCRIBE_WORKER_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Worker.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.Retention },
	},
}

func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", s.key, raw)
		}
		return n, nil
	case kDuration:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a duration", s.key, raw)
		}
		return d, nil
	default:
		return raw, nil
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// applyBackend copies stored settings into cfg. Unparseable values keep the
// default and produce a warning; backend read errors abort the load.
func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			warnf("config %v, using default", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets OPSCRIBE_* variables win over stored settings.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			warnf("%s: %v, using default", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// warnf reports config problems before logging is configured.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}
