package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/opscribe/internal/proxy"
)

// OpenRouterEngine sends chat requests to OpenRouter. Models are hosted, so
// pulling is a no-op.
type OpenRouterEngine struct {
	client       *proxy.Client
	defaultModel string
}

// NewOpenRouterEngine creates an OpenRouterEngine. An empty apiKey yields an
// engine whose Chat returns ErrNotConfigured. baseURL may be empty.
func NewOpenRouterEngine(apiKey, baseURL, defaultModel string) *OpenRouterEngine {
	if apiKey == "" {
		return &OpenRouterEngine{defaultModel: defaultModel}
	}
	c := proxy.NewClient(apiKey)
	if baseURL != "" {
		c = proxy.NewClientWithBaseURL(apiKey, baseURL)
	}
	return &OpenRouterEngine{client: c, defaultModel: defaultModel}
}

func (e *OpenRouterEngine) Name() string { return "openrouter" }

func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("openrouter: %w (set proxy.openrouter_api_key)", ErrNotConfigured)
	}
	if model == "" {
		model = e.defaultModel
	}

	msgs := make([]proxy.Message, len(messages))
	for i, m := range messages {
		msgs[i] = proxy.Message{Role: m.Role, Content: m.Content}
		if len(m.Images) > 0 {
			parts := []proxy.ContentPart{{Type: "text", Text: m.Content}}
			for _, img := range m.Images {
				parts = append(parts, proxy.ContentPart{
					Type:     "image_url",
					ImageURL: &proxy.ImageURL{URL: "data:image/png;base64," + img},
				})
			}
			msgs[i].Content = parts
		}
	}

	var format json.RawMessage
	if jsonSchema != nil {
		f, err := proxy.JSONSchemaFormat("structured_output", jsonSchema)
		if err != nil {
			return "", fmt.Errorf("openrouter: encoding schema: %w", err)
		}
		format = f
	}
	return e.client.Complete(ctx, model, msgs, format)
}

// IsRunning reports whether an API key is configured. It does not call out.
func (e *OpenRouterEngine) IsRunning(_ context.Context) bool {
	return e.client != nil
}

func (e *OpenRouterEngine) ListModels(ctx context.Context) ([]string, error) {
	if e.client == nil {
		return nil, ErrNotConfigured
	}
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenRouterEngine) HasModel(_ context.Context, _ string) bool {
	return e.client != nil
}

func (e *OpenRouterEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return nil
}
