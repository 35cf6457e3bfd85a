package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/opscribe/internal/metrics"
)

// Instrument wraps e so every Chat call is counted and timed per backend.
func Instrument(e Engine) Engine {
	if _, ok := e.(instrumented); ok {
		return e
	}
	return instrumented{Engine: e}
}

type instrumented struct {
	Engine
}

func (i instrumented) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	start := time.Now()
	out, err := i.Engine.Chat(ctx, model, messages, jsonSchema)
	metrics.BackendLatency.WithLabelValues(i.Name()).Observe(time.Since(start).Seconds())
	metrics.BackendCalls.WithLabelValues(i.Name(), callOutcome(err)).Inc()
	return out, err
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
