// Package synth builds synthesis requests for the procedure and role
// documents, runs them through a chat backend and interprets the response.
package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/opscribe/internal/engine"
)

// DefaultTimeout bounds one synthesis call.
const DefaultTimeout = 60 * time.Second

// Chatter is the part of engine.Engine the synthesizer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Synthesizer produces document revisions from observation batches.
type Synthesizer struct {
	client  Chatter
	model   string
	timeout time.Duration
}

// NewSynthesizer returns a Synthesizer. A non-positive timeout uses
// DefaultTimeout.
func NewSynthesizer(client Chatter, model string, timeout time.Duration) *Synthesizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Synthesizer{client: client, model: model, timeout: timeout}
}

// Synthesize runs one pass. Backend errors are returned as-is so the caller
// can leave its cursor untouched; a malformed response is not an error and
// comes back as a Freeform result.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Chat(ctx, s.model, req.Messages(), req.Schema())
	if err != nil {
		return Result{}, fmt.Errorf("synthesizing %s document: %w", req.Flavor.Kind, err)
	}
	res, err := ParseResult(raw, req.Flavor.Structured)
	if err != nil {
		return Result{}, fmt.Errorf("synthesizing %s document: %w", req.Flavor.Kind, err)
	}
	return res, nil
}
