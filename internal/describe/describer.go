// Package describe asks a vision model what the presenter is doing in a
// captured frame.
package describe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/opscribe/internal/engine"
)

// DefaultTimeout bounds one describe call.
const DefaultTimeout = 20 * time.Second

// ErrEmptyFrame is returned for a capture with no image data.
var ErrEmptyFrame = errors.New("empty frame")

// Chatter is the part of engine.Engine the describer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Describer produces a textual description of one frame.
type Describer struct {
	client  Chatter
	model   string
	timeout time.Duration
}

// NewDescriber creates a Describer using the given backend and vision model.
func NewDescriber(client Chatter, model string, timeout time.Duration) *Describer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Describer{client: client, model: model, timeout: timeout}
}

// Describe sends the frame to the vision model. image is base64, optionally
// as a data URL. Unlike synthesis there is no fallback: an error means the
// frame was not analyzed and the caller must not record progress.
func (d *Describer) Describe(ctx context.Context, image, previous string) (string, error) {
	image = stripDataURL(image)
	if image == "" {
		return "", ErrEmptyFrame
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.client.Chat(ctx, d.model, BuildPrompt(image, previous), nil)
	if err != nil {
		return "", fmt.Errorf("describing frame: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// stripDataURL removes a "data:<mime>;base64," prefix.
func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, after, ok := strings.Cut(s, ","); ok {
		return after
	}
	return ""
}
