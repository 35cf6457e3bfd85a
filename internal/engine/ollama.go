package engine

import (
	"context"

	"github.com/kalambet/opscribe/internal/ollama"
)

// OllamaEngine runs chats against a local Ollama server. Model management
// (IsRunning, ListModels, HasModel) comes straight from the client.
type OllamaEngine struct {
	*ollama.Client
}

func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{Client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Name() string { return BackendOllama }

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, ollama.Message{Role: m.Role, Content: m.Content, Images: m.Images})
	}
	return e.Client.Chat(ctx, model, msgs, ollamaSchema(jsonSchema))
}

func ollamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = ollamaProperty(p)
		}
	}
	return out
}

func ollamaProperty(p SchemaProperty) ollama.SchemaProperty {
	out := ollama.SchemaProperty{Type: p.Type, Description: p.Description}
	if p.Items != nil {
		items := ollamaProperty(*p.Items)
		out.Items = &items
	}
	return out
}

// PullModel forwards pull progress in engine terms.
func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	if onProgress == nil {
		return e.Client.PullModel(ctx, name, nil)
	}
	return e.Client.PullModel(ctx, name, func(p ollama.PullProgress) {
		onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
	})
}
