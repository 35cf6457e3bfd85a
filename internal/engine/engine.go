package engine

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a backend that is selected but lacks the
// credentials it needs. It is not retried.
var ErrNotConfigured = errors.New("inference backend not configured")

// Engine abstracts an inference backend (local Ollama or hosted OpenRouter).
// The describe and synthesize collaborators use this interface instead of
// depending on a concrete client.
type Engine interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
