package engine

import "fmt"

// Backend names accepted by Detect.
const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend           string
	OllamaBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	DefaultModel      string
}

// Detect returns the backend named by cfg.Backend. An empty name selects
// Ollama. A selected OpenRouter backend without a key is still returned so
// the daemon starts; its calls fail with ErrNotConfigured.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "", BackendOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case BackendOpenRouter:
		return NewOpenRouterEngine(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.DefaultModel), nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}
